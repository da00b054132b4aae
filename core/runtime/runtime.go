// Package runtime assembles one Schemat process: the ring stack, the
// registry, the agent scheduler, the rpc endpoint and the web router,
// wired from a YAML configuration. There are no package globals; every
// collaborator hangs off the Runtime handle.
package runtime

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/asaidimu/go-schemat/core/agent"
	"github.com/asaidimu/go-schemat/core/jsonx"
	"github.com/asaidimu/go-schemat/core/registry"
	"github.com/asaidimu/go-schemat/core/rpc"
	"github.com/asaidimu/go-schemat/core/store"
	"github.com/asaidimu/go-schemat/core/txn"
	"github.com/asaidimu/go-schemat/core/web"
	"github.com/asaidimu/go-schemat/kafka"
	"github.com/asaidimu/go-schemat/sqlite"
)

// Error wraps process assembly failures.
var Error = errs.Class("runtime")

// Options configures Boot beyond the file-backed Config.
type Options struct {
	// WorkerID overrides the WORKER_ID environment variable.
	WorkerID *int
	// Classes extends the codec's classpath before any decode runs.
	Classes *jsonx.Classpath
	// Bus overrides the transport selected by the config.
	Bus    rpc.Bus
	Logger *zap.Logger
}

// Runtime is one running process of a node.
type Runtime struct {
	Config    *Config
	NodeID    int64
	WorkerID  int
	Store     *store.Store
	Registry  *registry.Registry
	Scheduler *agent.Scheduler
	Bus       rpc.Bus
	Node      *rpc.Node
	Router    *web.Router
	Logger    *zap.Logger

	ownsBus bool
}

// Boot builds the process from its configuration. Nothing starts
// running until Run.
func Boot(cfg *Config, opts *Options) (*Runtime, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	nodeID, err := cfg.NodeID()
	if err != nil {
		return nil, err
	}
	workerID := 0
	if opts.WorkerID != nil {
		workerID = *opts.WorkerID
	} else if workerID, err = WorkerID(); err != nil {
		return nil, err
	}

	st, err := openRings(cfg, logger)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(st, opts.Classes, &registry.Options{
		DefaultTTL: cfg.CacheTTL.Std(),
		Logger:     logger.Named("registry"),
	})
	if err != nil {
		return nil, err
	}

	sched := agent.NewScheduler(reg, nodeID, &agent.Options{
		WorkerID:        workerID,
		RefreshInterval: cfg.RefreshInterval.Std(),
		Logger:          logger.Named("scheduler"),
	})

	bus := opts.Bus
	ownsBus := false
	if bus == nil {
		bus, err = openBus(cfg, nodeID, workerID, logger)
		if err != nil {
			return nil, err
		}
		ownsBus = true
	}

	node := rpc.NewNode(reg, sched, bus, nodeID, &rpc.Options{
		RequestTimeout: cfg.RequestTimeout.Std(),
		Logger:         logger.Named("rpc"),
	})
	router := web.NewRouter(reg, &web.Options{Logger: logger.Named("web")})

	return &Runtime{
		Config:    cfg,
		NodeID:    nodeID,
		WorkerID:  workerID,
		Store:     st,
		Registry:  reg,
		Scheduler: sched,
		Bus:       bus,
		Node:      node,
		Router:    router,
		Logger:    logger,
		ownsBus:   ownsBus,
	}, nil
}

// Transaction opens a fresh ambient transaction against this process's
// registry.
func (rt *Runtime) Transaction(opts *txn.Options) *txn.Transaction {
	if opts == nil {
		opts = &txn.Options{Logger: rt.Logger.Named("txn")}
	}
	return txn.New(rt.Registry, opts)
}

// Run attaches the rpc endpoint to the bus and drives the scheduler
// until it drains.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Node.Start(); err != nil {
		return err
	}
	rt.Logger.Info("process up",
		zap.Int64("node", rt.NodeID), zap.Int("worker", rt.WorkerID))
	err := rt.Scheduler.Run(ctx)
	rt.Close()
	return err
}

// Close detaches from the bus and releases transports this runtime
// opened itself.
func (rt *Runtime) Close() {
	rt.Node.Close()
	if rt.ownsBus {
		if err := rt.Bus.Close(); err != nil {
			rt.Logger.Warn("bus close failed", zap.Error(err))
		}
	}
}

// OpenStore builds the ring stack alone, for tooling that works on
// records without a running process.
func OpenStore(cfg *Config, logger *zap.Logger) (*store.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return openRings(cfg, logger)
}

// openRings builds the ring stack in config order, bottom first.
func openRings(cfg *Config, logger *zap.Logger) (*store.Store, error) {
	rings := make([]store.Ring, 0, len(cfg.Rings))
	for _, rc := range cfg.Rings {
		switch rc.Type {
		case "memory":
			opts := &store.MemoryRingOptions{
				ReadOnly:  rc.ReadOnly,
				Bootstrap: rc.Bootstrap,
				StartID:   rc.StartID,
			}
			if rc.File == "" {
				rings = append(rings, store.NewMemoryRing(rc.Name, opts))
				continue
			}
			ring, err := store.LoadMemoryRing(rc.Name, rc.File, opts)
			if err != nil {
				return nil, err
			}
			rings = append(rings, ring)

		case "sqlite":
			ring, err := sqlite.Open(rc.Name, rc.File, &sqlite.RingOptions{
				ReadOnly:  rc.ReadOnly,
				Bootstrap: rc.Bootstrap,
				StartID:   rc.StartID,
				Logger:    logger.Named("ring." + rc.Name),
			})
			if err != nil {
				return nil, err
			}
			rings = append(rings, ring)

		default:
			return nil, Error.New("ring %q has unknown type %q", rc.Name, rc.Type)
		}
	}
	return store.NewStore(rings...), nil
}

// openBus selects kafka when brokers are configured, the in-process
// loopback otherwise.
func openBus(cfg *Config, nodeID int64, workerID int, logger *zap.Logger) (rpc.Bus, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return rpc.NewLoopbackBus(), nil
	}
	return kafka.New(kafka.Options{
		Brokers:     cfg.Kafka.Brokers,
		TopicPrefix: cfg.Kafka.TopicPrefix,
		NodeID:      nodeID,
		WorkerID:    workerID,
		Logger:      logger.Named("kafka"),
	})
}
