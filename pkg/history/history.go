// Package history derives the negotiation timeline shown in the conversation
// view. System messages in the store are the sole source of truth; the
// reconstructor never invents entries and never mutates what it reads.
package history

import (
	"sort"
	"time"

	"github.com/tinyland-inc/bookswap/pkg/exchange"
)

// SystemSource is the slice of the message store the reconstructor reads.
// *msgstore.Store satisfies it.
type SystemSource interface {
	SystemMessages(negotiationID string) []exchange.Message
}

// Entry is one transition in a negotiation's timeline.
type Entry struct {
	Status    string         `json:"status"`
	Actor     exchange.Actor `json:"actor"`
	ActorName string         `json:"actor_name"`
	Timestamp time.Time      `json:"timestamp"`
}

// Timeline is the ordered history of one negotiation. Expired marks a
// negotiation whose id no longer matches either current slot; callers render
// it as a closed record, not a live history.
type Timeline struct {
	NegotiationID string  `json:"negotiation_id"`
	Expired       bool    `json:"expired"`
	Entries       []Entry `json:"entries"`
}

// Reconstructor turns stored system messages into timelines for one viewer.
type Reconstructor struct {
	selfID string
	source SystemSource
	names  map[string]string
}

// New creates a Reconstructor for the given viewer. names maps user ids to
// display names; unknown senders fall back to their raw id.
func New(selfID string, source SystemSource, names map[string]string) *Reconstructor {
	return &Reconstructor{selfID: selfID, source: source, names: names}
}

// Timeline rebuilds the history of one negotiation against the current
// snapshot. Placeholder messages are skipped; only server-confirmed events
// count as history.
func (r *Reconstructor) Timeline(negotiationID string, current exchange.Negotiation) Timeline {
	tl := Timeline{
		NegotiationID: negotiationID,
		Expired:       expired(negotiationID, current),
	}

	msgs := r.source.SystemMessages(negotiationID)
	for _, m := range msgs {
		if m.Placeholder() {
			continue
		}
		actor := exchange.ActorPartner
		if m.SenderID == r.selfID {
			actor = exchange.ActorMe
		}
		tl.Entries = append(tl.Entries, Entry{
			Status:    m.Kind.StatusLabel(),
			Actor:     actor,
			ActorName: r.displayName(m.SenderID),
			Timestamp: m.SentAt,
		})
	}

	sort.SliceStable(tl.Entries, func(i, j int) bool {
		return tl.Entries[i].Timestamp.Before(tl.Entries[j].Timestamp)
	})
	return tl
}

func (r *Reconstructor) displayName(userID string) string {
	if name, ok := r.names[userID]; ok && name != "" {
		return name
	}
	return userID
}

// expired reports whether the id matches neither current slot. A vacant
// negotiation expires every id.
func expired(negotiationID string, current exchange.Negotiation) bool {
	if negotiationID == "" {
		return true
	}
	if current.Mine != nil && current.Mine.NegotiationID == negotiationID {
		return false
	}
	if current.Partner != nil && current.Partner.NegotiationID == negotiationID {
		return false
	}
	return true
}
