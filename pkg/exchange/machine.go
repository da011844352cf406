// Package exchange implements the book-exchange negotiation protocol: the
// per-slot status model, the actor-gated transition rules, and the error
// taxonomy shared by the reconciliation engine and the API client.
//
// All transition functions are pure: they take a negotiation snapshot, verify
// the operation is legal for the acting participant, and return the successor
// snapshot plus the system events the transition narrates. Callers own
// persistence and delivery; the machine only decides legality.
package exchange

// Result is the outcome of a legal transition.
type Result struct {
	Next   Negotiation
	Events []MessageKind
	// NoOp is set when the operation was already applied (e.g. a second
	// accept on an ACCEPTED slot). Next equals the input and Events is empty.
	NoOp bool
}

// Machine validates and applies negotiation transitions. It is stateless; one
// value can serve any number of negotiations.
type Machine struct{}

// NewMachine returns a Machine.
func NewMachine() Machine { return Machine{} }

// Create starts a new negotiation with the acting participant's offer. It
// fails with ConflictError while a previous negotiation is still active.
// The id is provisional until the server assigns the real one.
func (Machine) Create(current Negotiation, actor Actor, id string, offer BookOffer) (Result, error) {
	if offer.BookID == "" {
		return Result{}, &ValidationError{Field: "book_id", Reason: "must not be empty"}
	}
	if id == "" {
		return Result{}, &ValidationError{Field: "negotiation_id", Reason: "must not be empty"}
	}
	if current.Active() {
		return Result{}, &ConflictError{Op: "create", Reason: "an active negotiation already exists for this conversation"}
	}

	next := Negotiation{ID: id}
	slot := offer
	slot.Status = StatusRequest
	slot.NegotiationID = id
	setSlot(&next, actor, &slot)

	return Result{Next: next, Events: []MessageKind{KindSystemRequest}}, nil
}

// RespondWithCounterOffer supplies the non-requesting participant's own offer
// while the requester's slot holds an open REQUEST and the responder's slot is
// vacant. Both slots then hold REQUEST and the negotiation is ready for
// mutual accept.
func (Machine) RespondWithCounterOffer(current Negotiation, actor Actor, negotiationID string, offer BookOffer) (Result, error) {
	if offer.BookID == "" {
		return Result{}, &ValidationError{Field: "book_id", Reason: "must not be empty"}
	}
	if err := checkReference(current, negotiationID); err != nil {
		return Result{}, err
	}
	if slotOf(current, actor) != nil {
		return Result{}, &ConflictError{Op: "counter_offer", Reason: "own offer slot is already occupied"}
	}
	other := slotOf(current, actor.opposite())
	if other == nil || !other.Status.isOpenRequest() {
		return Result{}, &ConflictError{Op: "counter_offer", Reason: "no open request to respond to"}
	}

	next := current.Clone()
	slot := offer
	slot.Status = StatusRequest
	slot.NegotiationID = current.ID
	setSlot(&next, actor, &slot)

	return Result{Next: next, Events: []MessageKind{KindSystemRequest}}, nil
}

// Accept marks the counterparty's outstanding REQUEST as ACCEPTED. A second
// accept on an already-ACCEPTED slot is an idempotent no-op. When the accept
// brings both slots to ACCEPTED the derived RESERVED event is emitted as well.
func (Machine) Accept(current Negotiation, actor Actor, negotiationID string) (Result, error) {
	if err := checkReference(current, negotiationID); err != nil {
		return Result{}, err
	}
	other := slotOf(current, actor.opposite())
	if other == nil {
		return Result{}, &ConflictError{Op: "accept", Reason: "counterparty has not offered a book yet"}
	}
	if other.Status == StatusAccepted {
		return Result{Next: current.Clone(), NoOp: true}, nil
	}
	if !other.Status.isOpenRequest() {
		return Result{}, &ConflictError{Op: "accept", Reason: "offer is " + string(other.Status) + ", not an open request"}
	}

	next := current.Clone()
	slotOf(next, actor.opposite()).Status = StatusAccepted

	events := []MessageKind{KindSystemAccepted}
	if next.Reserved() {
		events = append(events, KindSystemReserved)
	}
	return Result{Next: next, Events: events}, nil
}

// Reject marks the counterparty's outstanding REQUEST as REJECTED, a terminal
// state. The requester may then create a brand-new negotiation; the rejected
// one is kept for history and never reused.
func (Machine) Reject(current Negotiation, actor Actor, negotiationID string) (Result, error) {
	if err := checkReference(current, negotiationID); err != nil {
		return Result{}, err
	}
	other := slotOf(current, actor.opposite())
	if other == nil {
		return Result{}, &ConflictError{Op: "reject", Reason: "counterparty has not offered a book yet"}
	}
	if !other.Status.isOpenRequest() {
		return Result{}, &ConflictError{Op: "reject", Reason: "offer is " + string(other.Status) + ", not an open request"}
	}

	next := current.Clone()
	slotOf(next, actor.opposite()).Status = StatusRejected

	return Result{Next: next, Events: []MessageKind{KindSystemRejected}}, nil
}

// Cancel withdraws the acting participant's own still-open request. Only the
// requester of a pending offer may cancel it.
func (Machine) Cancel(current Negotiation, actor Actor, negotiationID string) (Result, error) {
	if err := checkReference(current, negotiationID); err != nil {
		return Result{}, err
	}
	own := slotOf(current, actor)
	if own == nil {
		return Result{}, &ConflictError{Op: "cancel", Reason: "no own offer to cancel"}
	}
	if !own.Status.isOpenRequest() {
		return Result{}, &ConflictError{Op: "cancel", Reason: "offer is " + string(own.Status) + ", not an open request"}
	}

	next := current.Clone()
	slotOf(next, actor).Status = StatusCanceled

	return Result{Next: next, Events: []MessageKind{KindSystemCanceled}}, nil
}

// Complete records that the scheduled exchange happened. Valid only from the
// derived RESERVED state; either participant may complete.
func (Machine) Complete(current Negotiation, _ Actor) (Result, error) {
	if current.Exchanged() {
		return Result{Next: current.Clone(), NoOp: true}, nil
	}
	if !current.Reserved() {
		return Result{}, &ConflictError{Op: "complete", Reason: "negotiation is not in the reserved state"}
	}

	next := current.Clone()
	next.Mine.Status = StatusExchanged
	next.Partner.Status = StatusExchanged

	return Result{Next: next, Events: []MessageKind{KindSystemExchanged}}, nil
}

// Return records that the loaned book came back after an exchange. Both slots
// clear to vacant, permitting a fresh negotiation.
func (Machine) Return(current Negotiation, _ Actor) (Result, error) {
	if !current.Exchanged() {
		return Result{}, &ConflictError{Op: "return", Reason: "negotiation has not been exchanged"}
	}

	next := Negotiation{}
	return Result{Next: next, Events: []MessageKind{KindSystemReturned}}, nil
}

// checkReference rejects operations carrying a negotiation id that no longer
// matches the conversation's current active negotiation. Cached ids must
// never be assumed valid across reconnects.
func checkReference(current Negotiation, negotiationID string) error {
	if negotiationID == "" {
		return &ValidationError{Field: "negotiation_id", Reason: "must not be empty"}
	}
	if current.ID != negotiationID {
		return &ExpiredReferenceError{NegotiationID: negotiationID}
	}
	return nil
}

func (a Actor) opposite() Actor {
	if a == ActorMe {
		return ActorPartner
	}
	return ActorMe
}

func slotOf(n Negotiation, actor Actor) *BookOffer {
	if actor == ActorMe {
		return n.Mine
	}
	return n.Partner
}

func setSlot(n *Negotiation, actor Actor, offer *BookOffer) {
	if actor == ActorMe {
		n.Mine = offer
	} else {
		n.Partner = offer
	}
}
