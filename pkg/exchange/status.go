package exchange

// SlotStatus is the lifecycle status of one participant's book offer slot.
type SlotStatus string

const (
	StatusRequest   SlotStatus = "REQUEST"
	StatusPending   SlotStatus = "PENDING"
	StatusAccepted  SlotStatus = "ACCEPTED"
	StatusRejected  SlotStatus = "REJECTED"
	StatusReserved  SlotStatus = "RESERVED"
	StatusExchanged SlotStatus = "EXCHANGED"
	StatusCanceled  SlotStatus = "CANCELED"
)

// IsTerminal reports whether a slot in this status can never progress again.
// RESERVED is a derived, UI-facing state and is not terminal.
func (s SlotStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCanceled, StatusExchanged:
		return true
	}
	return false
}

// isOpenRequest reports whether the slot holds an outstanding request that the
// counterparty may still accept or reject. PENDING is a server-originated
// alias of REQUEST and is treated identically for permission checks.
func (s SlotStatus) isOpenRequest() bool {
	return s == StatusRequest || s == StatusPending
}

// Valid reports whether s is a member of the closed status set.
func (s SlotStatus) Valid() bool {
	switch s {
	case StatusRequest, StatusPending, StatusAccepted, StatusRejected,
		StatusReserved, StatusExchanged, StatusCanceled:
		return true
	}
	return false
}

// MessageKind tags a chat message as free text or as a system event narrating
// a negotiation transition. System kinds mirror the slot status set plus
// RETURNED, which only ever appears as an event, never as a slot status.
type MessageKind string

const (
	KindText            MessageKind = "TEXT"
	KindSystemRequest   MessageKind = "SYSTEM_REQUEST"
	KindSystemAccepted  MessageKind = "SYSTEM_ACCEPTED"
	KindSystemRejected  MessageKind = "SYSTEM_REJECTED"
	KindSystemReserved  MessageKind = "SYSTEM_RESERVED"
	KindSystemExchanged MessageKind = "SYSTEM_EXCHANGED"
	KindSystemCanceled  MessageKind = "SYSTEM_CANCELED"
	KindSystemReturned  MessageKind = "SYSTEM_RETURNED"
)

// IsSystem reports whether the kind narrates a negotiation transition.
func (k MessageKind) IsSystem() bool {
	switch k {
	case KindSystemRequest, KindSystemAccepted, KindSystemRejected,
		KindSystemReserved, KindSystemExchanged, KindSystemCanceled,
		KindSystemReturned:
		return true
	}
	return false
}

// StatusLabel maps a system message kind to the status word shown in the
// negotiation timeline. Returns "" for non-system kinds.
func (k MessageKind) StatusLabel() string {
	switch k {
	case KindSystemRequest:
		return string(StatusRequest)
	case KindSystemAccepted:
		return string(StatusAccepted)
	case KindSystemRejected:
		return string(StatusRejected)
	case KindSystemReserved:
		return string(StatusReserved)
	case KindSystemExchanged:
		return string(StatusExchanged)
	case KindSystemCanceled:
		return string(StatusCanceled)
	case KindSystemReturned:
		return "RETURNED"
	}
	return ""
}
