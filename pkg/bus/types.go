package bus

import "github.com/tinyland-inc/bookswap/pkg/exchange"

// UpdateKind distinguishes what changed.
type UpdateKind string

const (
	// UpdateMessage carries a newly arrived chat or system message.
	UpdateMessage UpdateKind = "message"
	// UpdateConnectivity carries a transport state flip.
	UpdateConnectivity UpdateKind = "connectivity"
)

type Update struct {
	Kind      UpdateKind       `json:"kind"`
	Message   exchange.Message `json:"message,omitzero"`
	Connected bool             `json:"connected,omitempty"`
}
