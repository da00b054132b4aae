package rpc

import (
	"context"
	"sync"
)

// Bus is the cluster transport: one topic per node, opaque payloads.
// Implementations deliver every published payload to every subscriber
// of the target node's topic.
type Bus interface {
	// Publish sends a payload to the named node's topic.
	Publish(ctx context.Context, node int64, payload []byte) error
	// Subscribe registers a handler for the node's topic and returns an
	// unsubscribe function.
	Subscribe(node int64, handler func(payload []byte)) (func(), error)
	// Close releases the transport.
	Close() error
}

// LoopbackBus is an in-process bus for tests and single-node runs.
// Payloads are delivered asynchronously, like a real broker would.
type LoopbackBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int64]map[int]func([]byte)
	closed bool
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{subs: map[int64]map[int]func([]byte){}}
}

func (b *LoopbackBus) Publish(_ context.Context, node int64, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return TransportError.New("bus is closed")
	}
	handlers := make([]func([]byte), 0, len(b.subs[node]))
	for _, h := range b.subs[node] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		go h(payload)
	}
	return nil
}

func (b *LoopbackBus) Subscribe(node int64, handler func(payload []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, TransportError.New("bus is closed")
	}
	if b.subs[node] == nil {
		b.subs[node] = map[int]func([]byte){}
	}
	id := b.nextID
	b.nextID++
	b.subs[node][id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[node], id)
	}, nil
}

func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[int64]map[int]func([]byte){}
	return nil
}
