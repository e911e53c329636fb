// Package orch hosts the signaling router: a single actor that owns the
// connection registry and the membership table and applies every
// connection event to them in order.
package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("router stopped")

type eventKind int

const (
	evConnect eventKind = iota
	evMessage
	evDisconnect
	evQuery
)

type event struct {
	kind  eventKind
	id    domain.ConnectionID
	conn  core.SignalConnection
	msg   protocol.Message
	query func()
}

type Router struct {
	Registry *app.Registry
	Table    *app.MembershipTable
	Policy   app.Policy
	Metrics  *metrics.Metrics

	now      func() time.Time
	events   chan event
	done     chan struct{}
	stopOnce sync.Once
}

func NewRouter(policy app.Policy, m *metrics.Metrics, buffer int) *Router {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Router{
		Registry: app.NewRegistry(),
		Table:    app.NewMembershipTable(),
		Policy:   policy,
		Metrics:  m,
		now:      time.Now,
		events:   make(chan event, buffer),
		done:     make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled, then closes every
// registered connection.
func (r *Router) Run(ctx context.Context) {
	log.Info().Str("module", "orch").Msg("router started")
	for {
		select {
		case <-ctx.Done():
			r.stop()
			return
		case ev := <-r.events:
			r.dispatch(ev)
		}
	}
}

func (r *Router) stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.Registry.Each(func(_ domain.ConnectionID, conn core.SignalConnection) {
			conn.Close()
		})
		log.Info().Str("module", "orch").Int("connections", r.Registry.Len()).Msg("router stopped")
	})
}

// Connect registers a freshly accepted transport connection.
func (r *Router) Connect(id domain.ConnectionID, conn core.SignalConnection) error {
	return r.enqueue(context.Background(), event{kind: evConnect, id: id, conn: conn})
}

// Deliver hands a decoded message from id to the router.
func (r *Router) Deliver(id domain.ConnectionID, msg protocol.Message) error {
	return r.enqueue(context.Background(), event{kind: evMessage, id: id, msg: msg})
}

// Disconnect reports that the transport of id closed. Safe to call more than once.
func (r *Router) Disconnect(id domain.ConnectionID) error {
	return r.enqueue(context.Background(), event{kind: evDisconnect, id: id})
}

// Rooms lists live rooms.
func (r *Router) Rooms(ctx context.Context) ([]app.RoomInfo, error) {
	var out []app.RoomInfo
	err := r.query(ctx, func() { out = r.Table.Rooms() })
	return out, err
}

// Members lists the memberships of room, oldest first.
func (r *Router) Members(ctx context.Context, room domain.RoomID) ([]domain.Membership, error) {
	var out []domain.Membership
	err := r.query(ctx, func() { out = r.Table.Members(room) })
	return out, err
}

func (r *Router) query(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	ev := event{kind: evQuery, query: func() {
		fn()
		close(finished)
	}}
	if err := r.enqueue(ctx, ev); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
}

func (r *Router) enqueue(ctx context.Context, ev event) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}
	select {
	case r.events <- ev:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) dispatch(ev event) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("module", "orch").Str("conn", string(ev.id)).Interface("panic", p).Msg("event handler panicked")
		}
	}()

	switch ev.kind {
	case evConnect:
		r.onConnect(ev.id, ev.conn)
	case evMessage:
		r.onMessage(ev.id, ev.msg)
	case evDisconnect:
		r.onDisconnect(ev.id)
	case evQuery:
		ev.query()
		return
	}

	rooms, memberships := r.Table.Count()
	r.Metrics.Observe(r.Registry.Len(), rooms, memberships)
}

func (r *Router) onMessage(id domain.ConnectionID, msg protocol.Message) {
	r.Metrics.Message(msg.Type())
	st, ok := r.Registry.State(id)
	if !ok {
		log.Warn().Str("module", "orch").Str("conn", string(id)).Str("type", msg.Type()).Msg("message from unregistered connection")
		r.Metrics.Drop(metrics.DropNotJoined)
		return
	}

	switch m := msg.(type) {
	case *protocol.JoinRoom:
		r.join(id, st, m)
	case *protocol.LeaveRoom:
		r.leave(id, st, m)
	case *protocol.Relay:
		r.relay(id, st, m)
	case *protocol.StopScreenShare:
		r.stopScreenShare(id, st, m)
	case *protocol.RoomEvent:
		r.roomEvent(id, st, m)
	default:
		log.Warn().Str("module", "orch").Str("conn", string(id)).Str("type", msg.Type()).Msg("unsupported message")
		r.Metrics.Drop(metrics.DropInvalid)
	}
}

// joined resolves the binding of id, dropping the event when id is not
// in the Joined state.
func (r *Router) joined(id domain.ConnectionID, st app.ConnState, typ string) (app.Binding, bool) {
	if st != app.StateJoined {
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("type", typ).
			Str("state", st.String()).Err(domain.ErrNotJoined).Msg("dropped")
		r.Metrics.Drop(metrics.DropNotJoined)
		return app.Binding{}, false
	}
	b, ok := r.Registry.Binding(id)
	if !ok {
		log.Error().Str("module", "orch").Str("conn", string(id)).Msg("joined connection without binding")
		return app.Binding{}, false
	}
	return b, true
}
