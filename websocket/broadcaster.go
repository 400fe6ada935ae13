// Package websocket streams lifecycle events to connected collaborators.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	defaultSendQueueSize     = 512
	defaultHeartbeatInterval = time.Second * 5
	defaultIdleTimeout       = time.Minute * 5
)

// EventType is the type of the messages pushed to clients.
type EventType string

const (
	EventObjectCreated       EventType = "object_created"
	EventObjectUpdated       EventType = "object_updated"
	EventObjectDeleted       EventType = "object_deleted"
	EventRelationshipCreated EventType = "relationship_created"
	EventRelationshipDeleted EventType = "relationship_deleted"
	EventHeartbeat           EventType = "heartbeat"
	EventSubscribed          EventType = "subscribed"
)

// Event is a message pushed to clients.
type Event struct {
	Type         EventType             `json:"type"`
	ID           uuid.UUID             `json:"id,omitempty"`
	Object       *models.SpatialObject `json:"object,omitempty"`
	Relationship *models.Relationship  `json:"relationship,omitempty"`
	Subscription *Subscription         `json:"subscription,omitempty"`
	Time         time.Time             `json:"time"`
}

// Subscription narrows the object events a client receives. Zero fields
// match every object. Deletions and relationship events are always
// delivered.
type Subscription struct {
	BuildingID string              `json:"building_id,omitempty"`
	FloorID    string              `json:"floor_id,omitempty"`
	Systems    []models.SystemType `json:"systems,omitempty"`
}

func (s Subscription) match(ev Event) bool {
	obj := ev.Object
	if obj == nil {
		return true
	}
	if s.BuildingID != "" && obj.BuildingID != s.BuildingID {
		return false
	}
	if s.FloorID != "" && obj.FloorID != s.FloorID {
		return false
	}
	if len(s.Systems) == 0 {
		return true
	}
	for _, system := range s.Systems {
		if obj.SystemType() == system {
			return true
		}
	}
	return false
}

// Broadcaster pushes the lifecycle events it is notified of to every
// connected client as JSON text messages. It implements lifecycle.Listener.
//
// Each client has a bounded send queue: events are dropped for clients that
// do not keep up.
type Broadcaster struct {
	// The number of messages queued per client. Defaults to 512.
	SendQueueSize int

	// The interval between heartbeats sent to clients. Defaults to 5s.
	HeartbeatInterval time.Duration

	// The time a client can stay silent before being disconnected. Defaults
	// to 5min.
	IdleTimeout time.Duration

	Now func() time.Time

	mutex   sync.RWMutex
	clients map[string]*client
}

// Handle serves a client connection until it is closed or ctx is done.
func (b *Broadcaster) Handle(ctx context.Context, conn *websocket.Conn) {
	h := handler{
		broadcaster: b,
		conn:        conn,
		client: &client{
			id:    uuid.NewString(),
			queue: make(chan []byte, b.sendQueueSize()),
		},
	}
	h.handle(ctx)
}

// Server returns a websocket server serving clients with Handle.
func (b *Broadcaster) Server(ctx context.Context) websocket.Server {
	return websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()
			b.Handle(ctx, conn)
		},
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) OnObjectCreated(ctx context.Context, obj *models.SpatialObject) {
	b.Broadcast(Event{Type: EventObjectCreated, ID: obj.ID, Object: obj})
}

func (b *Broadcaster) OnObjectUpdated(ctx context.Context, obj *models.SpatialObject) {
	b.Broadcast(Event{Type: EventObjectUpdated, ID: obj.ID, Object: obj})
}

func (b *Broadcaster) OnObjectDeleted(ctx context.Context, id uuid.UUID) {
	b.Broadcast(Event{Type: EventObjectDeleted, ID: id})
}

func (b *Broadcaster) OnRelationshipCreated(ctx context.Context, r *models.Relationship) {
	b.Broadcast(Event{Type: EventRelationshipCreated, ID: r.ID, Relationship: r})
}

func (b *Broadcaster) OnRelationshipDeleted(ctx context.Context, r *models.Relationship) {
	b.Broadcast(Event{Type: EventRelationshipDeleted, ID: r.ID, Relationship: r})
}

// Broadcast queues an event for every client whose subscription matches it.
func (b *Broadcaster) Broadcast(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}

	msg, err := json.Marshal(ev)
	if err != nil {
		logs.WithTag("event", ev.Type).
			WithTag("id", ev.ID).
			Warn(err)
		return
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, c := range b.clients {
		if !c.subscription().match(ev) {
			continue
		}
		if !c.enqueue(msg) {
			instrumentDroppedMessage(ev.Type)
			logs.WithTag("client_id", c.id).
				WithTag("event", ev.Type).
				Debug("client send queue is full, event dropped")
			continue
		}
		instrumentQueuedMessage(ev.Type)
	}
}

func (b *Broadcaster) add(c *client) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.clients == nil {
		b.clients = make(map[string]*client)
	}
	b.clients[c.id] = c
	instrumentConnectedClients(len(b.clients))
}

func (b *Broadcaster) remove(c *client) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	delete(b.clients, c.id)
	instrumentConnectedClients(len(b.clients))
}

func (b *Broadcaster) sendQueueSize() int {
	if b.SendQueueSize <= 0 {
		return defaultSendQueueSize
	}
	return b.SendQueueSize
}

func (b *Broadcaster) heartbeatInterval() time.Duration {
	if b.HeartbeatInterval <= 0 {
		return defaultHeartbeatInterval
	}
	return b.HeartbeatInterval
}

func (b *Broadcaster) idleTimeout() time.Duration {
	if b.IdleTimeout <= 0 {
		return defaultIdleTimeout
	}
	return b.IdleTimeout
}

func (b *Broadcaster) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

type client struct {
	id    string
	queue chan []byte

	mutex sync.Mutex
	sub   Subscription
}

func (c *client) enqueue(msg []byte) bool {
	select {
	case c.queue <- msg:
		return true
	default:
		return false
	}
}

func (c *client) subscription() Subscription {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.sub
}

func (c *client) subscribe(s Subscription) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sub = s
}
