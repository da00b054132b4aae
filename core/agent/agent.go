// Package agent implements the per-process agent scheduler: a
// convergence loop that compares the node's desired agent sets against
// the agents currently running and starts, stops or restarts them in
// concurrent batches.
package agent

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/asaidimu/go-schemat/core/object"
	"github.com/asaidimu/go-schemat/core/registry"
)

// ErrNoBehavior reports an agent whose class has no registered
// lifecycle hooks in this process.
var ErrNoBehavior = errs.Class("no behavior")

// Node object fields holding the desired agent sets.
const (
	FieldAgentsInstalled     = "agents_installed"
	FieldAgentsRunning       = "agents_running"
	FieldMasterAgentsRunning = "master_agents_running"
)

// Behavior carries the lifecycle hooks of one agent class. Hooks are
// registered per classpath; the scheduler dispatches on the agent
// object's class.
type Behavior interface {
	// Install runs once when the agent joins the installed set.
	Install(ctx context.Context, obj *object.WebObject) error
	// Start brings the agent up and returns its running state.
	Start(ctx context.Context, obj *object.WebObject) (any, error)
	// Stop tears the agent down, receiving the state Start returned.
	Stop(ctx context.Context, obj *object.WebObject, state any) error
	// Restart hands the previous state over to a replaced instance.
	Restart(ctx context.Context, obj *object.WebObject, prevState any, prev *object.WebObject) (any, error)
	// Uninstall runs once when the agent leaves the installed set.
	Uninstall(ctx context.Context, obj *object.WebObject) error
}

// slot is one running agent: the newest instance the scheduler has seen
// plus the state its Start or Restart returned.
type slot struct {
	obj   *object.WebObject
	state any
}

// Options configures a scheduler.
type Options struct {
	// WorkerID is 0 for the master process.
	WorkerID        int
	RefreshInterval time.Duration
	Logger          *zap.Logger
}

// Scheduler converges the local process onto the node's desired agent
// sets.
type Scheduler struct {
	reg      *registry.Registry
	nodeID   int64
	workerID int
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	behaviors map[string]Behavior
	running   map[int64]*slot
	installed map[int64]*object.WebObject
	excluded  map[int64]bool

	closing atomic.Bool
}

func NewScheduler(reg *registry.Registry, nodeID int64, opts *Options) *Scheduler {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scheduler{
		reg:       reg,
		nodeID:    nodeID,
		workerID:  opts.WorkerID,
		interval:  interval,
		logger:    logger,
		behaviors: map[string]Behavior{},
		running:   map[int64]*slot{},
		installed: map[int64]*object.WebObject{},
		excluded:  map[int64]bool{},
	}
}

// RegisterBehavior installs the lifecycle hooks for one agent class.
func (s *Scheduler) RegisterBehavior(class string, b Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behaviors[class] = b
}

// Close sets the process-wide closing flag; the next iteration drains
// every agent.
func (s *Scheduler) Close() {
	s.closing.Store(true)
}

// Closing reports whether a drain has been requested.
func (s *Scheduler) Closing() bool {
	return s.closing.Load()
}

// Running returns the ids of the currently running agents.
func (s *Scheduler) Running() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.running))
	for id := range s.running {
		out = append(out, id)
	}
	return out
}

// State returns the running state of a resident agent.
func (s *Scheduler) State(id int64) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.running[id]
	if !ok {
		return nil, false
	}
	return sl.state, true
}

// Resident reports whether the agent runs in this process and returns
// its newest instance.
func (s *Scheduler) Resident(id int64) (*object.WebObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.running[id]
	if !ok {
		return nil, false
	}
	return sl.obj, true
}

// Run drives the convergence loop until the closing flag is set and
// every agent has drained. SIGTERM and SIGINT request the drain.
func (s *Scheduler) Run(ctx context.Context) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signals)

	for {
		started := time.Now()
		if err := s.Step(ctx); err != nil {
			s.logger.Error("scheduler iteration failed", zap.Error(err))
		}

		if s.closing.Load() && len(s.Running()) == 0 {
			s.logger.Info("scheduler drained")
			return nil
		}

		remaining := s.interval - time.Since(started)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-time.After(remaining):
		case sig := <-signals:
			s.logger.Info("shutdown signal, draining agents", zap.String("signal", sig.String()))
			s.closing.Store(true)
		case <-ctx.Done():
			s.closing.Store(true)
		}
	}
}

// Step runs one convergence iteration: reload the node, diff the
// desired sets against the running agents, and apply the stop, start
// and refresh batches concurrently. Lifecycle calls never overlap for
// the same agent because every batch is joined before the next
// iteration.
func (s *Scheduler) Step(ctx context.Context) error {
	desired := map[int64]bool{}
	installedNow := map[int64]*object.WebObject{}

	if !s.closing.Load() {
		node, err := s.reg.GetLoaded(ctx, s.nodeID)
		if err != nil {
			return err
		}
		node = s.reg.Refresh(node)

		ids, err := s.desiredAgents(ctx, node)
		if err != nil {
			return err
		}
		for _, agent := range ids {
			desired[agent.ID()] = true
		}
		installed, err := refTargets(ctx, node, FieldAgentsInstalled)
		if err != nil {
			return err
		}
		for _, agent := range installed {
			installedNow[agent.ID()] = agent
		}
	}

	s.converge(ctx, desired)
	s.syncInstalled(ctx, installedNow)
	return nil
}

// desiredAgents reads the node's desired running set for this worker:
// every process runs agents_running, the master additionally runs
// master_agents_running.
func (s *Scheduler) desiredAgents(ctx context.Context, node *object.WebObject) ([]*object.WebObject, error) {
	agents, err := refTargets(ctx, node, FieldAgentsRunning)
	if err != nil {
		return nil, err
	}
	if s.workerID == 0 {
		master, err := refTargets(ctx, node, FieldMasterAgentsRunning)
		if err != nil {
			return nil, err
		}
		agents = append(agents, master...)
	}
	return agents, nil
}

func refTargets(ctx context.Context, node *object.WebObject, field string) ([]*object.WebObject, error) {
	values, err := node.GetFieldAll(ctx, field)
	if err != nil {
		return nil, err
	}
	out := make([]*object.WebObject, 0, len(values))
	for _, v := range values {
		// Desired sets appear either as repeated entries or as one
		// list-valued entry, depending on the node's schema.
		switch ref := v.(type) {
		case *object.WebObject:
			out = append(out, ref)
		case []any:
			for _, item := range ref {
				if obj, ok := item.(*object.WebObject); ok {
					out = append(out, obj)
				}
			}
		}
	}
	return out, nil
}

func (s *Scheduler) converge(ctx context.Context, desired map[int64]bool) {
	s.mu.Lock()
	for id := range s.excluded {
		if !desired[id] {
			delete(s.excluded, id)
		}
	}
	var toStop, toRefresh []int64
	var toStart []int64
	for id := range s.running {
		if desired[id] {
			toRefresh = append(toRefresh, id)
		} else {
			toStop = append(toStop, id)
		}
	}
	for id := range desired {
		if _, ok := s.running[id]; !ok && !s.excluded[id] {
			toStart = append(toStart, id)
		}
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range toStop {
		id := id
		g.Go(func() error { s.stopAgent(gctx, id); return nil })
	}
	for _, id := range toStart {
		id := id
		g.Go(func() error { s.startAgent(gctx, id); return nil })
	}
	for _, id := range toRefresh {
		id := id
		g.Go(func() error { s.refreshAgent(gctx, id); return nil })
	}
	_ = g.Wait()
}

func (s *Scheduler) behaviorOf(obj *object.WebObject) (Behavior, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.behaviors[obj.Class()]
	return b, ok
}

func (s *Scheduler) startAgent(ctx context.Context, id int64) {
	obj, err := s.reg.GetLoaded(ctx, id)
	if err != nil {
		s.fail(id, "load", err)
		return
	}
	b, ok := s.behaviorOf(obj)
	if !ok {
		s.fail(id, "start", errNoBehavior(obj))
		return
	}
	state, err := b.Start(ctx, obj)
	if err != nil {
		s.fail(id, "start", err)
		return
	}
	s.mu.Lock()
	s.running[id] = &slot{obj: obj, state: state}
	s.mu.Unlock()
	s.reg.Emit(registry.RuntimeEvent{Type: registry.AgentStarted, ObjectID: id})
	s.logger.Info("agent started", zap.Int64("id", id), zap.String("class", obj.Class()))
}

func (s *Scheduler) stopAgent(ctx context.Context, id int64) {
	s.mu.Lock()
	sl, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	b, hasBehavior := s.behaviorOf(sl.obj)
	if hasBehavior {
		if err := b.Stop(ctx, sl.obj, sl.state); err != nil {
			s.logger.Error("agent stop failed", zap.Int64("id", id), zap.Error(err))
			s.reg.Emit(registry.RuntimeEvent{Type: registry.AgentFailed, ObjectID: id, Error: err.Error()})
		}
	}
	// The slot is released only after teardown completed.
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
	s.reg.Emit(registry.RuntimeEvent{Type: registry.AgentStopped, ObjectID: id})
	s.logger.Info("agent stopped", zap.Int64("id", id))
}

// refreshAgent hands the running state over when the registry holds a
// newer instance of the agent; identical instances are left alone.
func (s *Scheduler) refreshAgent(ctx context.Context, id int64) {
	s.mu.Lock()
	sl, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	newest := s.reg.Refresh(sl.obj)
	if newest == sl.obj {
		return
	}
	b, hasBehavior := s.behaviorOf(newest)
	if !hasBehavior {
		return
	}
	state, err := b.Restart(ctx, newest, sl.state, sl.obj)
	if err != nil {
		s.fail(id, "restart", err)
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	s.running[id] = &slot{obj: newest, state: state}
	s.mu.Unlock()
}

// syncInstalled runs the install and uninstall hooks when the node's
// installed set changes.
func (s *Scheduler) syncInstalled(ctx context.Context, now map[int64]*object.WebObject) {
	s.mu.Lock()
	previous := s.installed
	s.installed = now
	s.mu.Unlock()

	for id, obj := range now {
		if _, ok := previous[id]; ok {
			continue
		}
		if b, ok := s.behaviorOf(obj); ok {
			if err := b.Install(ctx, obj); err != nil {
				s.fail(id, "install", err)
			}
		}
	}
	for id, obj := range previous {
		if _, ok := now[id]; ok {
			continue
		}
		if b, ok := s.behaviorOf(obj); ok {
			if err := b.Uninstall(ctx, obj); err != nil {
				s.logger.Error("agent uninstall failed", zap.Int64("id", id), zap.Error(err))
			}
		}
	}
}

// fail logs a lifecycle failure and excludes the agent from the next
// iterations until the desired set changes it back in.
func (s *Scheduler) fail(id int64, op string, err error) {
	s.logger.Error("agent lifecycle failed",
		zap.Int64("id", id), zap.String("op", op), zap.Error(err))
	s.reg.Emit(registry.RuntimeEvent{Type: registry.AgentFailed, ObjectID: id, Error: err.Error()})
	s.mu.Lock()
	s.excluded[id] = true
	s.mu.Unlock()
}

func errNoBehavior(obj *object.WebObject) error {
	return ErrNoBehavior.New("class %q of agent [%d]", obj.Class(), obj.ID())
}
