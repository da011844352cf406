// Package reconcile merges optimistic local negotiation state with the
// server's authoritative truth. Every mutation follows the same path:
// validate against the last known snapshot, apply optimistically, issue the
// remote call, then either refetch authoritative state on success or restore
// the exact prior snapshot on failure.
//
// Mutations for a negotiation are serialized through one queue; remote events
// arriving mid-flight are deferred until the in-flight reconciliation
// completes, so partial states never interleave. Chat traffic bypasses the
// queue entirely.
package reconcile

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/tinyland-inc/bookswap/pkg/api"
	"github.com/tinyland-inc/bookswap/pkg/exchange"
	"github.com/tinyland-inc/bookswap/pkg/logger"
	"github.com/tinyland-inc/bookswap/pkg/msgstore"
	"github.com/tinyland-inc/bookswap/pkg/transport"
)

// Remote is the slice of the API client the engine depends on. *api.Client
// satisfies it.
type Remote interface {
	CreateExchange(ctx context.Context, req api.CreateExchangeRequest) (string, error)
	Accept(ctx context.Context, negotiationID string) error
	Reject(ctx context.Context, negotiationID string) error
	Cancel(ctx context.Context, negotiationID string) error
	Complete(ctx context.Context, conversationID string) error
	Return(ctx context.Context, conversationID string) error
	Books(ctx context.Context, conversationID string) (exchange.Negotiation, error)
}

// Engine owns the negotiation snapshot for one conversation. All writes to
// the snapshot happen inside its critical section; readers get clones.
type Engine struct {
	conversationID string
	selfID         string
	remote         Remote
	store          *msgstore.Store
	machine        exchange.Machine

	// refetch collapses concurrent Books calls into one request.
	refetch singleflight.Group

	// opMu is the in-flight mutation queue: one local mutation reconciles
	// at a time, waiters line up behind it.
	opMu sync.Mutex

	mu             sync.Mutex
	snapshot       exchange.Negotiation
	inflight       bool
	pendingRefresh bool
}

// New creates an Engine. The store receives every inbound message the engine
// sees via HandleEnvelope.
func New(conversationID, selfID string, remote Remote, store *msgstore.Store) *Engine {
	return &Engine{
		conversationID: conversationID,
		selfID:         selfID,
		remote:         remote,
		store:          store,
		machine:        exchange.NewMachine(),
	}
}

// Negotiation returns a clone of the current snapshot.
func (e *Engine) Negotiation() exchange.Negotiation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot.Clone()
}

// CreateOffer starts a new negotiation offering the given book and returns
// the server-assigned negotiation id.
func (e *Engine) CreateOffer(ctx context.Context, offer exchange.BookOffer) (string, error) {
	provisional := "local-" + uuid.New().String()
	var serverID string

	err := e.mutate(ctx,
		func(snap exchange.Negotiation) (exchange.Result, error) {
			return e.machine.Create(snap, exchange.ActorMe, provisional, offer)
		},
		func(ctx context.Context) error {
			id, err := e.remote.CreateExchange(ctx, api.CreateExchangeRequest{
				ConversationID: e.conversationID,
				BookID:         offer.BookID,
			})
			serverID = id
			return err
		},
	)
	if err != nil {
		return "", err
	}
	return serverID, nil
}

// CounterOffer responds to the partner's open request with the caller's own
// book, readying the negotiation for mutual accept.
func (e *Engine) CounterOffer(ctx context.Context, negotiationID string, offer exchange.BookOffer) error {
	return e.mutate(ctx,
		func(snap exchange.Negotiation) (exchange.Result, error) {
			return e.machine.RespondWithCounterOffer(snap, exchange.ActorMe, negotiationID, offer)
		},
		func(ctx context.Context) error {
			_, err := e.remote.CreateExchange(ctx, api.CreateExchangeRequest{
				ConversationID: e.conversationID,
				BookID:         offer.BookID,
				NegotiationID:  negotiationID,
			})
			return err
		},
	)
}

// Accept accepts the partner's outstanding offer. A second accept on an
// already-accepted offer returns nil without touching the server.
func (e *Engine) Accept(ctx context.Context, negotiationID string) error {
	return e.mutate(ctx,
		func(snap exchange.Negotiation) (exchange.Result, error) {
			return e.machine.Accept(snap, exchange.ActorMe, negotiationID)
		},
		func(ctx context.Context) error { return e.remote.Accept(ctx, negotiationID) },
	)
}

// Reject rejects the partner's outstanding offer.
func (e *Engine) Reject(ctx context.Context, negotiationID string) error {
	return e.mutate(ctx,
		func(snap exchange.Negotiation) (exchange.Result, error) {
			return e.machine.Reject(snap, exchange.ActorMe, negotiationID)
		},
		func(ctx context.Context) error { return e.remote.Reject(ctx, negotiationID) },
	)
}

// Cancel withdraws the caller's own pending request.
func (e *Engine) Cancel(ctx context.Context, negotiationID string) error {
	return e.mutate(ctx,
		func(snap exchange.Negotiation) (exchange.Result, error) {
			return e.machine.Cancel(snap, exchange.ActorMe, negotiationID)
		},
		func(ctx context.Context) error { return e.remote.Cancel(ctx, negotiationID) },
	)
}

// Complete marks the reserved exchange as done.
func (e *Engine) Complete(ctx context.Context) error {
	return e.mutate(ctx,
		func(snap exchange.Negotiation) (exchange.Result, error) {
			return e.machine.Complete(snap, exchange.ActorMe)
		},
		func(ctx context.Context) error { return e.remote.Complete(ctx, e.conversationID) },
	)
}

// Return marks the loaned book as returned, vacating both slots.
func (e *Engine) Return(ctx context.Context) error {
	return e.mutate(ctx,
		func(snap exchange.Negotiation) (exchange.Result, error) {
			return e.machine.Return(snap, exchange.ActorMe)
		},
		func(ctx context.Context) error { return e.remote.Return(ctx, e.conversationID) },
	)
}

// mutate runs one local mutation through the reconciliation path. Mutations
// queue behind each other on opMu; the snapshot's critical section is held
// only for reads and writes, never across the network call.
func (e *Engine) mutate(
	ctx context.Context,
	transition func(exchange.Negotiation) (exchange.Result, error),
	remoteCall func(context.Context) error,
) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	// 1. Validate against the last known state.
	e.mu.Lock()
	prior := e.snapshot.Clone()
	res, err := transition(prior.Clone())
	if err != nil {
		e.mu.Unlock()
		if exchange.IsExpiredReference(err) {
			go e.bestEffortRefresh()
		}
		return err
	}
	if res.NoOp {
		e.mu.Unlock()
		return nil
	}

	// 2. Optimistic local update.
	e.snapshot = res.Next
	e.inflight = true
	e.mu.Unlock()

	placeholders := e.appendEventPlaceholders(res)

	// 3. Remote call.
	callErr := remoteCall(ctx)

	// Abandoned in-flight call: the view is gone, restore and stop. No
	// refetch, no further state mutation on this resolution.
	if ctx.Err() != nil {
		e.rollback(prior, placeholders)
		e.finishMutation()
		return ctx.Err()
	}

	if callErr != nil {
		// 5. Roll back to the exact prior snapshot and surface the error.
		e.rollback(prior, placeholders)
		logger.WarnCF("reconcile", "Mutation rolled back", map[string]any{
			"conversation_id": e.conversationID,
			"error":           callErr.Error(),
		})
		if exchange.IsConflict(callErr) || exchange.IsExpiredReference(callErr) {
			// Local and server state diverged: force authoritative refetch
			// before any retry is allowed.
			e.bestEffortRefresh()
		}
		e.finishMutation()
		return callErr
	}

	// 4. Success: invalidate and refetch the authoritative view.
	if snap, err := e.fetchBooks(ctx); err == nil {
		e.mu.Lock()
		e.snapshot = snap
		e.mu.Unlock()
	} else {
		logger.WarnCF("reconcile", "Post-mutation refetch failed, keeping optimistic state", map[string]any{
			"conversation_id": e.conversationID,
			"error":           err.Error(),
		})
	}

	e.finishMutation()
	return nil
}

// rollback restores the exact pre-mutation snapshot and removes the
// optimistic system placeholders. It does not clear the in-flight flag;
// every mutate exit path ends with finishMutation.
func (e *Engine) rollback(prior exchange.Negotiation, placeholders []int64) {
	e.mu.Lock()
	e.snapshot = prior
	e.mu.Unlock()
	for _, seq := range placeholders {
		e.store.RemovePlaceholder(seq)
	}
}

// finishMutation clears the in-flight flag and applies any remote events that
// were deferred while the mutation reconciled.
func (e *Engine) finishMutation() {
	e.mu.Lock()
	e.inflight = false
	refresh := e.pendingRefresh
	e.pendingRefresh = false
	e.mu.Unlock()

	if refresh {
		e.bestEffortRefresh()
	}
}

// appendEventPlaceholders shows optimistic system messages for the
// transition's events. The server echo replaces them; rollback removes them.
func (e *Engine) appendEventPlaceholders(res exchange.Result) []int64 {
	seqs := make([]int64, 0, len(res.Events))
	for _, kind := range res.Events {
		p := e.store.AppendPlaceholder(exchange.Message{
			SenderID:      e.selfID,
			Kind:          kind,
			NegotiationID: res.Next.ID,
		})
		seqs = append(seqs, p.LocalSeq)
	}
	return seqs
}

// HandleEnvelope ingests one inbound transport envelope: the message always
// lands in the store; system events additionally trigger snapshot
// reconciliation, deferred while a local mutation is in flight.
func (e *Engine) HandleEnvelope(env transport.Envelope) {
	msg := msgstore.FromEnvelope(e.conversationID, env)
	e.store.AppendLive(msg)

	if !msg.Kind.IsSystem() {
		return
	}

	e.mu.Lock()
	if e.inflight {
		// Queued: applied after the in-flight mutation's reconciliation.
		e.pendingRefresh = true
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.bestEffortRefresh()
}

// Refresh refetches the authoritative negotiation snapshot. Concurrent calls
// collapse into a single request.
func (e *Engine) Refresh(ctx context.Context) error {
	snap, err := e.fetchBooks(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.snapshot = snap
	e.mu.Unlock()
	return nil
}

func (e *Engine) fetchBooks(ctx context.Context) (exchange.Negotiation, error) {
	v, err, _ := e.refetch.Do("books", func() (any, error) {
		return e.remote.Books(ctx, e.conversationID)
	})
	if err != nil {
		return exchange.Negotiation{}, err
	}
	return v.(exchange.Negotiation), nil
}

func (e *Engine) bestEffortRefresh() {
	if err := e.Refresh(context.Background()); err != nil {
		logger.WarnCF("reconcile", "Refresh failed", map[string]any{
			"conversation_id": e.conversationID,
			"error":           err.Error(),
		})
	}
}
