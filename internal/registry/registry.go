// Package registry owns the global set of rooms that may be opened.
package registry

import (
	"context"
	"errors"
	"sync"

	"roomrelay/backend/internal/log"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("registry closed")

// Store is the durable backing set. storage.Service and storage.RedisRoomSet
// implement it.
type Store interface {
	AddRoom(ctx context.Context, roomID string) error
	HasRoom(ctx context.Context, roomID string) (bool, error)
	ListRooms(ctx context.Context) ([]string, error)
}

type op int

const (
	opAdd op = iota
	opHas
	opList
)

type request struct {
	ctx    context.Context
	op     op
	roomID string
	reply  chan response
}

type response struct {
	ok    bool
	rooms []string
	err   error
}

// Registry serializes every read and write of the room set through one
// goroutine. Rooms seen as registered are remembered, since entries are
// never removed.
type Registry struct {
	store    Store
	requests chan request
	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}

	known map[string]struct{} // owned by run
}

// New starts the registry goroutine.
func New(store Store) *Registry {
	r := &Registry{
		store:    store,
		requests: make(chan request),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		known:    make(map[string]struct{}),
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	defer close(r.stopped)
	for {
		select {
		case req := <-r.requests:
			req.reply <- r.handle(req)
		case <-r.done:
			return
		}
	}
}

func (r *Registry) handle(req request) response {
	if err := req.ctx.Err(); err != nil {
		return response{err: err}
	}

	switch req.op {
	case opAdd:
		if _, ok := r.known[req.roomID]; ok {
			return response{ok: true}
		}
		if err := r.store.AddRoom(req.ctx, req.roomID); err != nil {
			return response{err: err}
		}
		r.known[req.roomID] = struct{}{}
		log.L().Info().Str(log.FieldRoomID, req.roomID).Msg("room registered")
		return response{ok: true}

	case opHas:
		if _, ok := r.known[req.roomID]; ok {
			return response{ok: true}
		}
		ok, err := r.store.HasRoom(req.ctx, req.roomID)
		if err != nil {
			return response{err: err}
		}
		if ok {
			r.known[req.roomID] = struct{}{}
		}
		return response{ok: ok}

	default:
		rooms, err := r.store.ListRooms(req.ctx)
		if err != nil {
			return response{err: err}
		}
		for _, id := range rooms {
			r.known[id] = struct{}{}
		}
		return response{rooms: rooms}
	}
}

func (r *Registry) call(ctx context.Context, o op, roomID string) response {
	req := request{ctx: ctx, op: o, roomID: roomID, reply: make(chan response, 1)}
	select {
	case r.requests <- req:
	case <-r.done:
		return response{err: ErrClosed}
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
	return <-req.reply
}

// Add registers roomID. It is idempotent.
func (r *Registry) Add(ctx context.Context, roomID string) error {
	return r.call(ctx, opAdd, roomID).err
}

// Has reports whether roomID is registered.
func (r *Registry) Has(ctx context.Context, roomID string) (bool, error) {
	resp := r.call(ctx, opHas, roomID)
	return resp.ok, resp.err
}

// List returns every registered room.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	resp := r.call(ctx, opList, "")
	return resp.rooms, resp.err
}

// Close stops the registry goroutine and waits for it to exit.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.done) })
	<-r.stopped
}
