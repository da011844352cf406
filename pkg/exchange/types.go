package exchange

import "time"

// Actor identifies which conversation participant performed an operation,
// always from the viewing client's perspective.
type Actor string

const (
	ActorMe      Actor = "me"
	ActorPartner Actor = "partner"
)

// BookOffer is one participant's half of a negotiation: the catalog book they
// are offering and its current status. Offers are plain value records keyed by
// negotiation id; the two sides never hold references to each other.
type BookOffer struct {
	BookID        string     `json:"book_id"`
	Title         string     `json:"title,omitempty"`
	OwnerID       string     `json:"owner_id"`
	Status        SlotStatus `json:"status"`
	NegotiationID string     `json:"negotiation_id"`
}

// Negotiation is a snapshot of one exchange negotiation as seen by the viewing
// client: the id plus the two offer slots. A nil slot is vacant. Negotiation
// values are copy-on-write: readers receive clones and never mutate in place.
type Negotiation struct {
	ID      string     `json:"id"`
	Mine    *BookOffer `json:"mine"`
	Partner *BookOffer `json:"partner"`
}

// Clone returns a deep copy. Rollback in the reconciliation engine depends on
// clones being exact, so every field is copied, not recomputed.
func (n Negotiation) Clone() Negotiation {
	c := Negotiation{ID: n.ID}
	if n.Mine != nil {
		mine := *n.Mine
		c.Mine = &mine
	}
	if n.Partner != nil {
		partner := *n.Partner
		c.Partner = &partner
	}
	return c
}

// Vacant reports whether neither side has an outstanding offer, meaning a
// fresh negotiation may be created.
func (n Negotiation) Vacant() bool {
	return n.Mine == nil && n.Partner == nil
}

// Active reports whether the negotiation still admits transitions. A
// negotiation with any non-terminal slot is active; a vacant one is not.
func (n Negotiation) Active() bool {
	if n.Vacant() {
		return false
	}
	for _, slot := range []*BookOffer{n.Mine, n.Partner} {
		if slot != nil && !slot.Status.IsTerminal() {
			return true
		}
	}
	return false
}

// Reserved reports the derived meeting-scheduled state: both slots ACCEPTED.
// The UI surfaces this instead of two independent ACCEPTED flags.
func (n Negotiation) Reserved() bool {
	return n.Mine != nil && n.Partner != nil &&
		n.Mine.Status == StatusAccepted && n.Partner.Status == StatusAccepted
}

// Exchanged reports whether both slots completed the exchange.
func (n Negotiation) Exchanged() bool {
	return n.Mine != nil && n.Partner != nil &&
		n.Mine.Status == StatusExchanged && n.Partner.Status == StatusExchanged
}

// DisplayStatus collapses the two slot statuses into the single state the UI
// renders: RESERVED once both sides accepted, EXCHANGED once both completed.
func (n Negotiation) DisplayStatus() SlotStatus {
	switch {
	case n.Exchanged():
		return StatusExchanged
	case n.Reserved():
		return StatusReserved
	case n.Mine != nil && n.Mine.Status.IsTerminal():
		return n.Mine.Status
	case n.Partner != nil && n.Partner.Status.IsTerminal():
		return n.Partner.Status
	case n.Mine != nil:
		return n.Mine.Status
	case n.Partner != nil:
		return n.Partner.Status
	}
	return ""
}

// Message is one immutable entry in a conversation's log. ID is the
// server-assigned ULID; it is empty on optimistic placeholders, which instead
// carry a negative LocalSeq until the server echo replaces them.
type Message struct {
	ID             string      `json:"id,omitempty"`
	LocalSeq       int64       `json:"-"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Kind           MessageKind `json:"kind"`
	Content        string      `json:"content,omitempty"`
	NegotiationID  string      `json:"negotiation_id,omitempty"`
	SentAt         time.Time   `json:"sent_at"`
	Read           bool        `json:"read,omitempty"`
}

// Placeholder reports whether the message is a local optimistic echo that has
// not yet been confirmed by the server.
func (m Message) Placeholder() bool {
	return m.ID == "" && m.LocalSeq < 0
}
