// Package rpc implements agent method calls across the cluster. A call
// addresses an agent object and a role; when the local scheduler holds
// the agent the method runs in process, otherwise an envelope travels
// over the bus to the agent's node and the reply is matched back by
// correlation id.
package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/asaidimu/go-schemat/core/agent"
	"github.com/asaidimu/go-schemat/core/object"
	"github.com/asaidimu/go-schemat/core/registry"
)

var (
	// ServerTimeout reports a call whose reply did not arrive within the
	// request timeout.
	ServerTimeout = errs.Class("request timeout")
	// NotResident reports a call to an agent that no process runs.
	NotResident = errs.Class("not resident")
	// NoMethod reports a call to a method the agent's class does not
	// expose under the requested role.
	NoMethod = errs.Class("no method")
	// RemoteError re-raises an exception thrown on the serving node.
	RemoteError = errs.Class("remote")
	// TransportError reports bus-level failures.
	TransportError = errs.Class("transport")
)

// Error kinds carried on the wire so the caller can rehydrate the
// class a failure belongs to.
const (
	kindNoMethod    = "no_method"
	kindNotResident = "not_resident"
	kindRemote      = "remote"
)

// StateField is the pseudo-method exposing a resident agent's running
// state without a registered handler.
const StateField = "state"

// FieldNode names the placement field on agent objects: a reference to
// the node object whose processes run the agent.
const FieldNode = "node"

// Failure is the wire form of an error raised on the serving node. The
// message and remote stack survive the trip.
type Failure struct {
	Kind    string
	Message string
	Stack   string
}

func (f *Failure) Error() string { return f.Message }

// Invocation carries one dispatched call into a method handler.
type Invocation struct {
	// Agent is the resident instance the call addresses.
	Agent *object.WebObject
	// State is the agent's running state as returned by Start.
	State any
	// Args are the decoded call arguments.
	Args []any
}

// Handler implements one agent method.
type Handler func(ctx context.Context, inv Invocation) (any, error)

// Locator maps an agent object to the id of the node that runs it.
type Locator func(ctx context.Context, target *object.WebObject) (int64, error)

// Options configures an rpc node.
type Options struct {
	// RequestTimeout bounds the wait for a remote reply.
	RequestTimeout time.Duration
	// Locate overrides the default placement lookup, which reads the
	// target's node reference field.
	Locate Locator
	Logger *zap.Logger
}

type outcome struct {
	result any
	err    error
}

// Node is the per-process rpc endpoint: it serves calls arriving on its
// node topic and issues calls on behalf of local code.
type Node struct {
	reg     *registry.Registry
	sched   *agent.Scheduler
	bus     Bus
	nodeID  int64
	timeout time.Duration
	locate  Locator
	logger  *zap.Logger

	mu          sync.Mutex
	methods     map[string]Handler
	pending     map[string]chan outcome
	unsubscribe func()
}

func NewNode(reg *registry.Registry, sched *agent.Scheduler, bus Bus, nodeID int64, opts *Options) *Node {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	n := &Node{
		reg:     reg,
		sched:   sched,
		bus:     bus,
		nodeID:  nodeID,
		timeout: timeout,
		logger:  logger,
		methods: map[string]Handler{},
		pending: map[string]chan outcome{},
	}
	n.locate = opts.Locate
	if n.locate == nil {
		n.locate = n.placementOf
	}
	return n
}

// RegisterMethod installs a handler for one class, role and method.
func (n *Node) RegisterMethod(class, role, method string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.methods[methodKey(class, role, method)] = h
}

// Start subscribes the node to its own topic.
func (n *Node) Start() error {
	unsubscribe, err := n.bus.Subscribe(n.nodeID, n.handleMessage)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.unsubscribe = unsubscribe
	n.mu.Unlock()
	return nil
}

// Close detaches the node from the bus. In-flight calls fail with
// ServerTimeout when their replies can no longer arrive.
func (n *Node) Close() {
	n.mu.Lock()
	unsubscribe := n.unsubscribe
	n.unsubscribe = nil
	n.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Proxy returns the call surface of one agent under one role.
func (n *Node) Proxy(target *object.WebObject, role string) *Proxy {
	return &Proxy{node: n, target: target, role: role}
}

// Proxy issues method calls against a single agent object.
type Proxy struct {
	node   *Node
	target *object.WebObject
	role   string
}

// Call invokes a method on the agent, locally when it is resident and
// over the bus otherwise.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (any, error) {
	return p.node.call(ctx, p.target, p.role, method, args)
}

func (n *Node) call(ctx context.Context, target *object.WebObject, role, method string, args []any) (any, error) {
	if resident, ok := n.sched.Resident(target.ID()); ok {
		return n.invokeLocal(ctx, resident, role, method, args)
	}

	nodeID, err := n.locate(ctx, target)
	if err != nil {
		return nil, err
	}
	if nodeID == n.nodeID {
		return nil, NotResident.New("agent [%d] belongs to this node but is not running", target.ID())
	}
	return n.callRemote(ctx, nodeID, target.ID(), role, method, args)
}

// invokeLocal dispatches on the agent's class and role. The state
// pseudo-field short-circuits to the scheduler.
func (n *Node) invokeLocal(ctx context.Context, obj *object.WebObject, role, method string, args []any) (any, error) {
	if method == StateField {
		state, _ := n.sched.State(obj.ID())
		return state, nil
	}
	n.mu.Lock()
	h, ok := n.methods[methodKey(obj.Class(), role, method)]
	n.mu.Unlock()
	if !ok {
		return nil, NoMethod.New("class %q exposes no %s.%s", obj.Class(), role, method)
	}
	state, _ := n.sched.State(obj.ID())
	return h(ctx, Invocation{Agent: obj, State: state, Args: args})
}

func (n *Node) callRemote(ctx context.Context, nodeID, target int64, role, method string, args []any) (any, error) {
	id := uuid.NewString()
	ch := make(chan outcome, 1)
	n.mu.Lock()
	n.pending[id] = ch
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.pending, id)
		n.mu.Unlock()
	}()

	payload, err := n.encodeEnvelope(map[string]any{
		"id":     id,
		"from":   n.nodeID,
		"target": target,
		"role":   role,
		"method": method,
		"args":   args,
	})
	if err != nil {
		return nil, err
	}
	if err := n.bus.Publish(ctx, nodeID, payload); err != nil {
		return nil, TransportError.Wrap(err)
	}

	timer := time.NewTimer(n.timeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		return out.result, out.err
	case <-timer.C:
		return nil, ServerTimeout.New("no reply from node %d for %s.%s on agent [%d] within %s",
			nodeID, role, method, target, n.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleMessage routes one bus payload: replies match their pending
// call, requests dispatch in their own goroutine so the bus handler
// never blocks.
func (n *Node) handleMessage(payload []byte) {
	env, err := n.decodeEnvelope(payload)
	if err != nil {
		n.logger.Error("malformed envelope", zap.Error(err))
		return
	}
	if isReply, _ := env["re"].(bool); isReply {
		n.handleReply(env)
		return
	}
	go n.handleRequest(context.Background(), env)
}

func (n *Node) handleReply(env map[string]any) {
	id, _ := env["id"].(string)
	n.mu.Lock()
	ch, ok := n.pending[id]
	n.mu.Unlock()
	if !ok {
		n.logger.Debug("reply without a pending call", zap.String("id", id))
		return
	}

	var out outcome
	if failure, failed := env["error"].(map[string]any); failed {
		out.err = rehydrate(failure)
	} else {
		out.result = env["result"]
	}
	select {
	case ch <- out:
	default:
	}
}

func (n *Node) handleRequest(ctx context.Context, env map[string]any) {
	id, _ := env["id"].(string)
	from, okFrom := asInt(env["from"])
	target, okTarget := asInt(env["target"])
	role, _ := env["role"].(string)
	method, _ := env["method"].(string)
	args, _ := env["args"].([]any)
	if !okFrom || !okTarget || id == "" || method == "" {
		n.logger.Error("malformed request envelope")
		return
	}

	reply := map[string]any{"id": id, "re": true}
	if resident, ok := n.sched.Resident(target); ok {
		result, err := n.invokeLocal(ctx, resident, role, method, args)
		if err != nil {
			reply["error"] = wireFailure(err)
		} else {
			reply["result"] = result
		}
	} else {
		reply["error"] = wireFailure(NotResident.New("agent [%d] is not resident on node %d", target, n.nodeID))
	}

	payload, err := n.encodeEnvelope(reply)
	if err != nil {
		n.logger.Error("cannot encode reply", zap.String("id", id), zap.Error(err))
		return
	}
	if err := n.bus.Publish(ctx, from, payload); err != nil {
		n.logger.Error("cannot publish reply", zap.Int64("to", from), zap.Error(err))
	}
}

func (n *Node) encodeEnvelope(env map[string]any) ([]byte, error) {
	raw, err := n.reg.Codec().EncodeString(env)
	if err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

func (n *Node) decodeEnvelope(payload []byte) (map[string]any, error) {
	v, err := n.reg.Codec().DecodeString(string(payload))
	if err != nil {
		return nil, err
	}
	env, ok := v.(map[string]any)
	if !ok {
		return nil, TransportError.New("envelope is %T, not an object", v)
	}
	return env, nil
}

// placementOf reads the target's node reference field.
func (n *Node) placementOf(ctx context.Context, target *object.WebObject) (int64, error) {
	v, err := target.GetField(ctx, FieldNode)
	if err != nil {
		return 0, err
	}
	node, ok := v.(*object.WebObject)
	if !ok {
		return 0, NotResident.New("agent [%d] has no node placement", target.ID())
	}
	return node.ID(), nil
}

// wireFailure flattens an error for the reply envelope.
func wireFailure(err error) map[string]any {
	kind := kindRemote
	switch {
	case NoMethod.Has(err):
		kind = kindNoMethod
	case NotResident.Has(err):
		kind = kindNotResident
	}
	return map[string]any{
		"kind":    kind,
		"message": err.Error(),
		"stack":   fmt.Sprintf("%+v", err),
	}
}

// rehydrate rebuilds the error class a wire failure belongs to.
func rehydrate(failure map[string]any) error {
	f := &Failure{}
	f.Kind, _ = failure["kind"].(string)
	f.Message, _ = failure["message"].(string)
	f.Stack, _ = failure["stack"].(string)
	switch f.Kind {
	case kindNoMethod:
		return NoMethod.Wrap(f)
	case kindNotResident:
		return NotResident.Wrap(f)
	default:
		return RemoteError.Wrap(f)
	}
}

func methodKey(class, role, method string) string {
	return class + "/" + role + "/" + method
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
