// Package services implements the domain operations of the client on top
// of the api package: authentication, transactions, the dashboard and
// budgets. Services validate what they can locally, perform no retries and
// return every failure to the caller.
package services

import (
	"context"
	"sync"

	"ledger/internal/api"
)

// Backend sends requests to the finance API. *api.Client satisfies it.
type Backend interface {
	Send(ctx context.Context, req api.Request, out any) error
}

var _ Backend = (*api.Client)(nil)

// listeners is a small registry of change callbacks.
type listeners struct {
	mu     sync.Mutex
	fns    map[int]func(context.Context)
	nextID int
}

func (l *listeners) add(fn func(context.Context)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(context.Context))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners) notify(ctx context.Context) {
	l.mu.Lock()
	fns := make([]func(context.Context), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(ctx)
	}
}
