// Package event provides the fire-and-forget lifecycle event bus the
// import pipeline dispatches on.
package event

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/feed"
	"github.com/quarrylabs/quarry/store"
)

// Name identifies one lifecycle event.
type Name string

const (
	Init          Name = "init"
	PreFetch      Name = "prefetch"
	PostFetch     Name = "postfetch"
	PreParse      Name = "preparse"
	PostParse     Name = "postparse"
	PreProcess    Name = "preprocess"
	PostProcess   Name = "postprocess"
	PreValidate   Name = "prevalidate"
	PreSave       Name = "presave"
	PostSave      Name = "postsave"
	Clean         Name = "clean"
	InitClear     Name = "init-clear"
	Clear         Name = "clear"
	InitExpire    Name = "init-expire"
	Expire        Name = "expire"
	Finished      Name = "finished"
	SourceDeleted Name = "source-deleted"
)

// Payload carries the subject of an event. Source is always set; Entity
// and Item are set where applicable.
type Payload struct {
	Source *feed.Source
	Stage  feed.Stage
	Entity *store.Entity
	Item   *feed.Item
}

// Handler receives one dispatched event.
type Handler func(name Name, payload Payload)

// Bus is a synchronous fire-and-forget dispatcher. Handlers run in
// subscription order; a panicking handler is recovered and logged so it
// cannot abort an import.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
	all      []Handler
	logger   *zap.SugaredLogger
}

// NewBus creates an event bus. logger may be nil.
func NewBus(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		handlers: make(map[Name][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for one event name.
func (b *Bus) Subscribe(name Name, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Dispatch fires an event to all matching handlers.
func (b *Bus) Dispatch(name Name, payload Payload) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[name])+len(b.all))
	handlers = append(handlers, b.handlers[name]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatchOne(name, payload, handler)
	}
}

func (b *Bus) dispatchOne(name Name, payload Payload, handler Handler) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Errorw("Event handler panicked",
				"event", string(name),
				"panic", r)
		}
	}()
	handler(name, payload)
}
