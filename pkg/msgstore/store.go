// Package msgstore keeps the ordered, paginated message log for one
// conversation. It merges two feeds: historical pages fetched backwards
// through a cursor, and live envelopes pushed over the transport. Ordering is
// authoritative here, by send time and then server-assigned ULID, never by
// arrival order on the wire.
package msgstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tinyland-inc/bookswap/pkg/api"
	"github.com/tinyland-inc/bookswap/pkg/exchange"
	"github.com/tinyland-inc/bookswap/pkg/logger"
	"github.com/tinyland-inc/bookswap/pkg/transport"
)

// dedupWindow bounds how far apart a server echo and its optimistic
// placeholder may be timestamped and still be considered the same message.
const dedupWindow = 30 * time.Second

// HistoryFetcher fetches one page of historical messages. *api.Client
// satisfies it.
type HistoryFetcher interface {
	Messages(ctx context.Context, conversationID, cursor string, limit int) (api.MessagesPage, error)
}

// Store is the per-conversation message log. All reads return copies; the
// internal slice is never handed out for mutation.
type Store struct {
	conversationID string
	selfID         string
	fetch          HistoryFetcher
	pageSize       int

	mu           sync.Mutex
	msgs         []exchange.Message
	nextLocalSeq int64
	cursor       string
	exhausted    bool
}

// New creates a Store for the conversation. selfID is the viewing client's
// user id, used for unread accounting.
func New(conversationID, selfID string, fetch HistoryFetcher, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Store{
		conversationID: conversationID,
		selfID:         selfID,
		fetch:          fetch,
		pageSize:       pageSize,
	}
}

// FetchOlder loads the next-older history page and merges it in. It returns
// the number of messages added. Once history is exhausted it keeps returning
// (0, nil); calling it repeatedly is safe.
func (s *Store) FetchOlder(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.exhausted {
		s.mu.Unlock()
		return 0, nil
	}
	cursor := s.cursor
	s.mu.Unlock()

	page, err := s.fetch.Messages(ctx, s.conversationID, cursor, s.pageSize)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, msg := range page.Messages {
		if s.insertLocked(normalize(msg)) {
			added++
		}
	}
	s.cursor = page.NextCursor
	if page.NextCursor == "" {
		s.exhausted = true
	}

	logger.DebugCF("msgstore", "History page merged", map[string]any{
		"conversation_id": s.conversationID,
		"added":           added,
		"exhausted":       s.exhausted,
	})
	return added, nil
}

// AppendLive merges a live-pushed message. Redelivered ids are ignored
// (at-least-once transport), and a server echo matching a pending optimistic
// placeholder replaces the placeholder instead of duplicating it.
func (s *Store) AppendLive(msg exchange.Message) {
	msg = normalize(msg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID != "" && s.containsIDLocked(msg.ID) {
		return
	}

	if idx := s.matchPlaceholderLocked(msg); idx >= 0 {
		s.msgs[idx] = msg
		s.sortLocked()
		return
	}

	s.insertLocked(msg)
}

// AppendPlaceholder inserts an optimistic local message and returns it with
// its negative sentinel sequence assigned. The placeholder stands in until
// the server echoes the real message back, or until RemovePlaceholder rolls
// it out after a failed mutation.
func (s *Store) AppendPlaceholder(msg exchange.Message) exchange.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLocalSeq--
	msg.ID = ""
	msg.LocalSeq = s.nextLocalSeq
	msg.ConversationID = s.conversationID
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	s.insertLocked(msg)
	return msg
}

// RemovePlaceholder drops the placeholder with the given local sequence.
// Used when rolling back an optimistic mutation.
func (s *Store) RemovePlaceholder(localSeq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.msgs {
		if m.Placeholder() && m.LocalSeq == localSeq {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return
		}
	}
}

// Snapshot returns a copy of the ordered log, oldest first.
func (s *Store) Snapshot() []exchange.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]exchange.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// SystemMessages returns the ordered system events narrating the given
// negotiation. This is the sole input to the status history reconstructor.
func (s *Store) SystemMessages(negotiationID string) []exchange.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []exchange.Message
	for _, m := range s.msgs {
		if m.Kind.IsSystem() && m.NegotiationID == negotiationID {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of messages currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Exhausted reports whether all history has been fetched.
func (s *Store) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

// UnreadCount counts partner messages not yet marked read.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.SenderID != s.selfID && !m.Read {
			n++
		}
	}
	return n
}

// MarkAllRead flags every partner message as read.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].SenderID != s.selfID {
			s.msgs[i].Read = true
		}
	}
}

// FromEnvelope converts a transport envelope into a store message.
func FromEnvelope(conversationID string, env transport.Envelope) exchange.Message {
	msg := exchange.Message{
		ID:             env.ID,
		ConversationID: conversationID,
		SenderID:       env.SenderID,
		SentAt:         env.SentTime,
		NegotiationID:  env.NegotiationID,
	}
	if env.Type == "system" {
		msg.Kind = exchange.MessageKind(env.StatusKind)
		msg.Content = env.Content
	} else {
		msg.Kind = exchange.KindText
		msg.Content = env.Content
	}
	return normalize(msg)
}

// normalize recovers a missing send time from the message's ULID, whose first
// 48 bits encode the server's mint timestamp.
func normalize(msg exchange.Message) exchange.Message {
	if msg.SentAt.IsZero() && msg.ID != "" {
		if id, err := ulid.Parse(msg.ID); err == nil {
			msg.SentAt = time.UnixMilli(int64(id.Time()))
		}
	}
	return msg
}

func (s *Store) containsIDLocked(id string) bool {
	for _, m := range s.msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

// matchPlaceholderLocked finds a pending placeholder matching the server
// echo: same sender, same kind and content, timestamps within the dedup
// window.
func (s *Store) matchPlaceholderLocked(msg exchange.Message) int {
	for i, m := range s.msgs {
		if !m.Placeholder() {
			continue
		}
		if m.SenderID != msg.SenderID || m.Kind != msg.Kind || m.Content != msg.Content {
			continue
		}
		delta := msg.SentAt.Sub(m.SentAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= dedupWindow {
			return i
		}
	}
	return -1
}

// insertLocked adds the message and restores order. Returns false when the
// message was already present by id.
func (s *Store) insertLocked(msg exchange.Message) bool {
	if msg.ID != "" && s.containsIDLocked(msg.ID) {
		return false
	}
	s.msgs = append(s.msgs, msg)
	s.sortLocked()
	return true
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.msgs, func(i, j int) bool {
		a, b := s.msgs[i], s.msgs[j]
		if !a.SentAt.Equal(b.SentAt) {
			return a.SentAt.Before(b.SentAt)
		}
		return a.ID < b.ID
	})
}
