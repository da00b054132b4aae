package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-schemat/core/object"
	"github.com/asaidimu/go-schemat/core/registry"
	"github.com/asaidimu/go-schemat/core/store"
)

type fakeBehavior struct {
	mu        sync.Mutex
	calls     map[string]int
	failStart map[int64]bool
}

func newFakeBehavior() *fakeBehavior {
	return &fakeBehavior{calls: map[string]int{}, failStart: map[int64]bool{}}
}

func (b *fakeBehavior) record(op string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[fmt.Sprintf("%s:%d", op, id)]++
}

func (b *fakeBehavior) count(op string, id int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[fmt.Sprintf("%s:%d", op, id)]
}

func (b *fakeBehavior) Install(ctx context.Context, obj *object.WebObject) error {
	b.record("install", obj.ID())
	return nil
}

func (b *fakeBehavior) Start(ctx context.Context, obj *object.WebObject) (any, error) {
	b.record("start", obj.ID())
	b.mu.Lock()
	fail := b.failStart[obj.ID()]
	b.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("start refused")
	}
	return fmt.Sprintf("state-%d", obj.ID()), nil
}

func (b *fakeBehavior) Stop(ctx context.Context, obj *object.WebObject, state any) error {
	b.record("stop", obj.ID())
	return nil
}

func (b *fakeBehavior) Restart(ctx context.Context, obj *object.WebObject, prevState any, prev *object.WebObject) (any, error) {
	b.record("restart", obj.ID())
	return prevState, nil
}

func (b *fakeBehavior) Uninstall(ctx context.Context, obj *object.WebObject) error {
	b.record("uninstall", obj.ID())
	return nil
}

func testWorld(t *testing.T, node string) (*registry.Registry, *store.MemoryRing, *fakeBehavior, *Scheduler) {
	t.Helper()
	ring := store.NewMemoryRing("app", nil)
	ctx := context.Background()
	records := map[int64]string{
		1:   node,
		100: `{"@":"test.Agent","name":"A"}`,
		101: `{"@":"test.Agent","name":"B"}`,
		102: `{"@":"test.Agent","name":"C"}`,
		103: `{"@":"test.Agent","name":"M"}`,
	}
	for id, data := range records {
		_, err := ring.InsertAt(ctx, id, data)
		require.NoError(t, err)
	}
	reg, err := registry.New(store.NewStore(ring), nil, &registry.Options{DefaultTTL: time.Hour})
	require.NoError(t, err)

	behavior := newFakeBehavior()
	sched := NewScheduler(reg, 1, &Options{WorkerID: 1, RefreshInterval: time.Millisecond})
	sched.RegisterBehavior("test.Agent", behavior)
	return reg, ring, behavior, sched
}

func TestSchedulerConvergence(t *testing.T) {
	reg, ring, behavior, sched := testWorld(t, `{"agents_running":[{"@":100},{"@":101}]}`)
	ctx := context.Background()

	// First iteration: {A, B} come up.
	require.NoError(t, sched.Step(ctx))
	assert.ElementsMatch(t, []int64{100, 101}, sched.Running())
	assert.Equal(t, 1, behavior.count("start", 100))
	assert.Equal(t, 1, behavior.count("start", 101))

	state, ok := sched.State(100)
	require.True(t, ok)
	assert.Equal(t, "state-100", state)

	// Desired set moves to {B, C}: exactly one stop of A, one start of
	// C, and no restart of B while its instance is unchanged.
	require.NoError(t, ring.Update(ctx, 1, `{"agents_running":[{"@":101},{"@":102}]}`))
	_, err := reg.Reload(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, sched.Step(ctx))
	assert.ElementsMatch(t, []int64{101, 102}, sched.Running())
	assert.Equal(t, 1, behavior.count("stop", 100))
	assert.Equal(t, 1, behavior.count("start", 102))
	assert.Equal(t, 0, behavior.count("restart", 101))

	// Replacing B's instance hands the previous state over exactly once.
	_, err = reg.Reload(ctx, 101)
	require.NoError(t, err)
	require.NoError(t, sched.Step(ctx))
	assert.Equal(t, 1, behavior.count("restart", 101))
	state, ok = sched.State(101)
	require.True(t, ok)
	assert.Equal(t, "state-101", state, "restart keeps the handed-over state")

	// After the closing flag, the next iteration drains everything.
	sched.Close()
	require.NoError(t, sched.Step(ctx))
	assert.Empty(t, sched.Running())
	assert.Equal(t, 1, behavior.count("stop", 101))
	assert.Equal(t, 1, behavior.count("stop", 102))
	assert.Equal(t, 1, behavior.count("stop", 100), "agents stop exactly once")
}

func TestMasterAgentsOnlyOnMaster(t *testing.T) {
	node := `{"agents_running":[{"@":100}],"master_agents_running":[{"@":103}]}`

	_, _, workerBehavior, worker := testWorld(t, node)
	require.NoError(t, worker.Step(context.Background()))
	assert.ElementsMatch(t, []int64{100}, worker.Running())
	assert.Equal(t, 0, workerBehavior.count("start", 103))

	reg, _, masterBehavior, _ := testWorld(t, node)
	master := NewScheduler(reg, 1, &Options{WorkerID: 0})
	master.RegisterBehavior("test.Agent", masterBehavior)
	require.NoError(t, master.Step(context.Background()))
	assert.ElementsMatch(t, []int64{100, 103}, master.Running())
}

func TestFailedStartExcludesAgent(t *testing.T) {
	_, _, behavior, sched := testWorld(t, `{"agents_running":[{"@":100}]}`)
	behavior.failStart[100] = true
	ctx := context.Background()

	require.NoError(t, sched.Step(ctx))
	require.NoError(t, sched.Step(ctx))
	assert.Empty(t, sched.Running())
	assert.Equal(t, 1, behavior.count("start", 100), "a failed agent is excluded from later iterations")
}

func TestInstallAndUninstallHooks(t *testing.T) {
	reg, ring, behavior, sched := testWorld(t, `{"agents_installed":[{"@":100}]}`)
	ctx := context.Background()

	require.NoError(t, sched.Step(ctx))
	require.NoError(t, sched.Step(ctx))
	assert.Equal(t, 1, behavior.count("install", 100), "install runs once per membership change")

	require.NoError(t, ring.Update(ctx, 1, `{"agents_installed":[]}`))
	_, err := reg.Reload(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, sched.Step(ctx))
	assert.Equal(t, 1, behavior.count("uninstall", 100))
}

func TestRunDrainsOnClose(t *testing.T) {
	_, _, behavior, sched := testWorld(t, `{"agents_running":[{"@":100}]}`)

	done := make(chan error, 1)
	go func() { done <- sched.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return behavior.count("start", 100) == 1
	}, 2*time.Second, 5*time.Millisecond)

	sched.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not drain")
	}
	assert.Equal(t, 1, behavior.count("stop", 100))
	assert.Empty(t, sched.Running())
}
