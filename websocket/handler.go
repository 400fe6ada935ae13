package websocket

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// handler serves a single client connection.
type handler struct {
	broadcaster *Broadcaster
	conn        *websocket.Conn
	client      *client

	receiveChan    chan []byte
	disconnectChan chan error
}

func (h *handler) handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.receiveChan = make(chan []byte, 8)
	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	h.broadcaster.add(h.client)
	defer h.broadcaster.remove(h.client)

	logs.WithTag("client_id", h.client.id).
		WithTag("remote_addr", h.remoteAddr()).
		Info("new client is connected")

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.broadcaster.idleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	heartbeatTicker := time.NewTicker(h.broadcaster.heartbeatInterval())
	defer heartbeatTicker.Stop()

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			h.handleDisconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", idleTimeout))

		case <-heartbeatTicker.C:
			h.sendEvent(Event{Type: EventHeartbeat})

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(msg); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			cancel()
		}
	}

	wg.Wait()
}

// handleMessage applies a subscription sent by the client.
func (h *handler) handleMessage(msg []byte) error {
	var sub Subscription
	if err := json.Unmarshal(msg, &sub); err != nil {
		return errors.New("invalid subscription").
			WithTag("message", string(msg)).
			Wrap(err)
	}

	h.client.subscribe(sub)
	h.sendEvent(Event{Type: EventSubscribed, Subscription: &sub})

	logs.WithTag("client_id", h.client.id).
		WithTag("subscription", sub).
		Debug("client subscribed")
	return nil
}

func (h *handler) sendEvent(ev Event) {
	ev.Time = h.broadcaster.now()

	msg, err := json.Marshal(ev)
	if err != nil {
		logs.WithTag("client_id", h.client.id).Warn(err)
		return
	}
	if !h.client.enqueue(msg) {
		instrumentDroppedMessage(ev.Type)
		return
	}
	instrumentQueuedMessage(ev.Type)
}

func (h *handler) startSending(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.client.queue:
			if err := websocket.Message.Send(h.conn, string(msg)); err != nil {
				instrumentSendError(err)
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
			instrumentSentBytes(len(msg))
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		var msg []byte
		if err := websocket.Message.Receive(h.conn, &msg); err != nil {
			if ctx.Err() == nil {
				h.disconnect(errors.New("receiving message failed").Wrap(err))
			}
			return
		}
		instrumentReceivedMessage()

		select {
		case <-ctx.Done():
			return
		case h.receiveChan <- msg:
		}
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.conn.Close()

	entry := logs.WithTag("client_id", h.client.id).
		WithTag("remote_addr", h.remoteAddr())
	if err != nil &&
		!stderrors.Is(err, io.EOF) &&
		!stderrors.Is(err, net.ErrClosed) &&
		!stderrors.Is(err, context.Canceled) {
		entry = entry.WithTag("reason", err.Error())
	}
	entry.Info("client disconnected")
}

func (h *handler) remoteAddr() string {
	if req := h.conn.Request(); req != nil {
		return req.RemoteAddr
	}
	return ""
}
