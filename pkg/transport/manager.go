package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/tinyland-inc/bookswap/pkg/logger"
)

// Manager hands out one shared Channel per conversation id. Channels are
// created lazily and reference-counted: the first Acquire dials, the last
// Release tears down. This keeps reconnect state in exactly one place without
// a package-level global.
type Manager struct {
	wsBaseURL string
	opts      []Option

	mu       sync.Mutex
	channels map[string]*managedChannel
}

type managedChannel struct {
	ch     *Channel
	refs   int
	cancel context.CancelFunc
}

// NewManager creates a Manager dialing conversation streams under wsBaseURL
// (e.g. "wss://exchange.example.com/ws"). opts apply to every channel.
func NewManager(wsBaseURL string, opts ...Option) *Manager {
	return &Manager{
		wsBaseURL: strings.TrimRight(wsBaseURL, "/"),
		opts:      opts,
		channels:  make(map[string]*managedChannel),
	}
}

// Acquire returns the shared Channel for the conversation, creating and
// connecting it on first use. Every Acquire must be paired with a Release.
func (m *Manager) Acquire(conversationID string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.channels[conversationID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		ch := NewChannel(conversationID, m.streamURL(conversationID), m.opts...)
		ch.Connect(ctx)
		mc = &managedChannel{ch: ch, cancel: cancel}
		m.channels[conversationID] = mc
		logger.InfoCF("transport", "Channel created", map[string]any{
			"conversation_id": conversationID,
		})
	}
	mc.refs++
	return mc.ch
}

// Release drops one reference. When the last consumer releases, the channel
// is closed and removed; a later Acquire creates a fresh one. Closing here is
// view teardown only; it never tells the server to leave the conversation.
func (m *Manager) Release(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.channels[conversationID]
	if !ok {
		return
	}
	mc.refs--
	if mc.refs > 0 {
		return
	}

	mc.cancel()
	mc.ch.Close()
	delete(m.channels, conversationID)
	logger.InfoCF("transport", "Channel released", map[string]any{
		"conversation_id": conversationID,
	})
}

// ActiveConversations returns the ids with a live channel, for diagnostics.
func (m *Manager) ActiveConversations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) streamURL(conversationID string) string {
	return m.wsBaseURL + "/conversations/" + conversationID + "/stream"
}
