package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aukilabs/bygg/conflict"
	"github.com/aukilabs/bygg/featureflag"
	bygghttp "github.com/aukilabs/bygg/http"
	"github.com/aukilabs/bygg/lifecycle"
	"github.com/aukilabs/bygg/models"
	"github.com/aukilabs/bygg/rules"
	"github.com/aukilabs/bygg/smoketest"
	"github.com/aukilabs/bygg/spatial/octree"
	"github.com/aukilabs/bygg/spatial/rtree"
	byggwebsocket "github.com/aukilabs/bygg/websocket"
	"github.com/aukilabs/bygg/workers"
	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

var (
	// The Bygg version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "bygg_info",
		Help:        "Bygg information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr             string        `cli:""        env:"BYGG_ADDR"                 help:"Listening address for API and event stream connections."`
	AdminAddr        string        `cli:""        env:"BYGG_ADMIN_ADDR"           help:"Admin listening address."`
	LogLevel         string        `cli:""        env:"BYGG_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent        bool          `cli:""        env:"BYGG_LOG_INDENT"           help:"Indent logs."`
	RulesFile        string        `cli:""        env:"BYGG_RULES_FILE"           help:"YAML file with the system and code rule tables. Uses the built-in tables when empty."`
	SeedFile         string        `cli:""        env:"BYGG_SEED_FILE"            help:"JSON file with the objects to create at startup."`
	LockDuration     time.Duration `cli:""        env:"BYGG_LOCK_DURATION"        help:"Duration of object locks acquired without an explicit duration."`
	Workers          int           `cli:",hidden" env:"BYGG_WORKERS"              help:"The number of workers running batch conflict detections."`
	WorkerQueue      int           `cli:",hidden" env:"BYGG_WORKER_QUEUE"         help:"The number of detections queued before submissions block."`
	CacheSize        int           `cli:",hidden" env:"BYGG_CACHE_SIZE"           help:"The number of conflict detection results kept in cache."`
	Index            indexConfig   `cli:",hidden" env:"-"                         help:"Spatial index configuration."`
	Events           eventsConfig  `cli:",hidden" env:"-"                         help:"Event pusher configuration."`
	Stream           streamConfig  `cli:",hidden" env:"-"                         help:"Event stream configuration."`
	SmokeTestTimeout time.Duration `cli:",hidden" env:"BYGG_SMOKE_TEST_TIMEOUT"   help:"The maximum duration of a smoke test run."`
	FeatureFlags     []string      `cli:",hidden" env:"BYGG_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version          bool          `cli:""        env:"-"                         help:"Show version."`
	Help             bool          `cli:""        env:"-"                         help:"Show help."`
}

type indexConfig struct {
	Extent           int `cli:",hidden" env:"BYGG_INDEX_EXTENT"             help:"Half extent of the cube covered by the octree root, centered on the origin."`
	OctreeMaxObjects int `cli:",hidden" env:"BYGG_INDEX_OCTREE_MAX_OBJECTS" help:"The number of objects an octree leaf holds before subdividing."`
	OctreeMaxDepth   int `cli:",hidden" env:"BYGG_INDEX_OCTREE_MAX_DEPTH"   help:"The maximum octree depth."`
	RTreeMaxEntries  int `cli:",hidden" env:"BYGG_INDEX_RTREE_MAX_ENTRIES"  help:"The number of entries an r-tree node holds before splitting."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"BYGG_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed. Disabled when empty."`
	FlushInterval time.Duration `cli:",hidden" env:"BYGG_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"BYGG_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"BYGG_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

type streamConfig struct {
	HeartbeatInterval time.Duration `cli:",hidden" env:"BYGG_STREAM_HEARTBEAT_INTERVAL" help:"Event stream heartbeat interval."`
	ClientIdleTimeout time.Duration `cli:",hidden" env:"BYGG_STREAM_CLIENT_IDLE_TIMEOUT" help:"Time until an idle client will be disconnected."`
	SendQueueSize     int           `cli:",hidden" env:"BYGG_STREAM_SEND_QUEUE_SIZE"     help:"The number of events queued per client before dropping."`
}

func defaultConfig() config {
	return config{
		Addr:             ":4000",
		AdminAddr:        ":18190",
		LogLevel:         logs.InfoLevel.String(),
		LockDuration:     lifecycle.DefaultLockDuration,
		Workers:          workers.DefaultSize,
		WorkerQueue:      64,
		CacheSize:        conflict.DefaultCacheSize,
		SmokeTestTimeout: time.Second * 30,
		Index: indexConfig{
			Extent:           1000,
			OctreeMaxObjects: octree.DefaultMaxObjects,
			OctreeMaxDepth:   octree.DefaultMaxDepth,
			RTreeMaxEntries:  rtree.DefaultMaxEntries,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
		Stream: streamConfig{
			HeartbeatInterval: time.Second * 5,
			ClientIdleTimeout: time.Minute * 5,
			SendQueueSize:     512,
		},
	}
}

func main() {
	conf := defaultConfig()

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts Bygg server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     metrics.HTTPTransport(http.DefaultTransport),
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "bygg",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	flags := featureflag.New(conf.FeatureFlags)

	ruleEngine, err := loadRules(conf)
	if err != nil {
		logs.Fatal(err)
	}

	pool := workers.NewPool(conf.Workers, conf.WorkerQueue)
	defer pool.Close()

	conflicts, err := conflict.New(conflictOptions(conf, flags, ruleEngine, pool))
	if err != nil {
		logs.Fatal(errors.New("creating conflict engine failed").Wrap(err))
	}
	defer conflicts.Close()

	engine, err := lifecycle.New(lifecycle.Options{
		Conflicts:    conflicts,
		LockDuration: conf.LockDuration,
	})
	if err != nil {
		logs.Fatal(errors.New("creating lifecycle engine failed").Wrap(err))
	}
	defer engine.Close()

	var service http.ServeMux

	flags.IfNotSet(featureflag.FlagDisableEventBroadcast, func() {
		broadcaster := &byggwebsocket.Broadcaster{
			SendQueueSize:     conf.Stream.SendQueueSize,
			HeartbeatInterval: conf.Stream.HeartbeatInterval,
			IdleTimeout:       conf.Stream.ClientIdleTimeout,
		}
		engine.AddListener(broadcaster)
		service.Handle("/events", broadcaster.Server(ctx))
	})

	var ready atomic.Bool
	readinessCheck := bygghttp.HandleReadyCheck(engine, ready.Load)

	service.Handle("/health", bygghttp.HandleWithCORS(bygghttp.HandleHealthCheck(version)))
	service.Handle("/ready", bygghttp.HandleWithCORS(readinessCheck))
	service.Handle("/version", bygghttp.HandleWithCORS(bygghttp.HandleVersion(version)))
	service.Handle("/stats", bygghttp.HandleWithCORS(bygghttp.HandleStats(engine)))
	service.Handle("/conflicts", bygghttp.HandleWithCORS(bygghttp.HandleConflicts(engine)))
	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Version: version,
		Timeout: conf.SmokeTestTimeout,
	}))

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", bygghttp.HandleHealthCheck(version))
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", readinessCheck)
	admin.HandleFunc("/stats", bygghttp.HandleStats(engine))

	go func() {
		if conf.SeedFile != "" {
			if err := importSeed(ctx, engine, conf.SeedFile); err != nil {
				logs.Fatal(err)
			}
		}
		ready.Store(true)
	}()

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("addr", conf.Addr).
		WithTag("workers", pool.Size()).
		WithTag("feature_flags", flags.List()).
		Info("starting bygg server")

	bygghttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			bygghttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func loadRules(conf config) (*rules.Engine, error) {
	if conf.RulesFile == "" {
		return rules.New(rules.DefaultOptions())
	}

	r, err := rules.LoadFile(conf.RulesFile, rules.DefaultOptions())
	if err != nil {
		return nil, errors.New("loading rules failed").Wrap(err)
	}
	logs.WithTag("rules_file", conf.RulesFile).
		WithTag("codes", len(r.Codes())).
		Info("rules loaded")
	return r, nil
}

func conflictOptions(conf config, flags featureflag.FeatureFlag, r *rules.Engine, pool *workers.Pool) conflict.Options {
	extent := float64(conf.Index.Extent)

	return conflict.Options{
		Rules: r,
		Pool:  pool,
		VolumeIndex: octree.New(octree.Config{
			Bounds:     models.NewBox3(models.Vector3{}, models.Vector3{X: extent, Y: extent, Z: extent}),
			MaxObjects: conf.Index.OctreeMaxObjects,
			MaxDepth:   conf.Index.OctreeMaxDepth,
		}),
		PlanIndex:          rtree.New(conf.Index.RTreeMaxEntries),
		CacheSize:          conf.CacheSize,
		DisableCache:       flags.IsSet(featureflag.FlagDisableConflictCache),
		DisableDetectOnAdd: flags.IsSet(featureflag.FlagDisableDetectOnAdd),
		DisablePlanView:    flags.IsSet(featureflag.FlagDisablePlanViewConflicts),
	}
}

func validateConfig(conf config) error {
	if conf.Addr == "" {
		return errors.New("listening address is empty")
	}

	if conf.Addr == conf.AdminAddr {
		return errors.New("listening and admin addresses must differ").
			WithTag("addr", conf.Addr)
	}

	if conf.Workers < 0 || conf.WorkerQueue < 0 {
		return errors.New("worker count and queue size must not be negative").
			WithTag("workers", conf.Workers).
			WithTag("worker_queue", conf.WorkerQueue)
	}

	if conf.CacheSize < 0 {
		return errors.New("cache size must not be negative").
			WithTag("cache_size", conf.CacheSize)
	}

	if conf.LockDuration < 0 {
		return errors.New("lock duration must not be negative").
			WithTag("lock_duration", conf.LockDuration)
	}

	if conf.Index.Extent <= 0 {
		return errors.New("index extent must be positive").
			WithTag("extent", conf.Index.Extent)
	}

	if conf.Index.RTreeMaxEntries != 0 && conf.Index.RTreeMaxEntries < 4 {
		return errors.New("r-tree nodes must hold at least 4 entries").
			WithTag("max_entries", conf.Index.RTreeMaxEntries)
	}

	if conf.Index.OctreeMaxObjects < 0 || conf.Index.OctreeMaxDepth < 0 {
		return errors.New("octree limits must not be negative").
			WithTag("max_objects", conf.Index.OctreeMaxObjects).
			WithTag("max_depth", conf.Index.OctreeMaxDepth)
	}

	if conf.RulesFile != "" {
		if _, err := os.Stat(conf.RulesFile); err != nil {
			return errors.New("invalid rules file").Wrap(err)
		}
	}

	if conf.SeedFile != "" {
		if _, err := os.Stat(conf.SeedFile); err != nil {
			return errors.New("invalid seed file").Wrap(err)
		}
	}

	return nil
}
