package exchange

import (
	"testing"
)

func offerA() BookOffer {
	return BookOffer{BookID: "book-x", Title: "The Dispossessed", OwnerID: "user-a"}
}

func offerB() BookOffer {
	return BookOffer{BookID: "book-y", Title: "Solaris", OwnerID: "user-b"}
}

func TestCreate_SetsRequestAndLeavesPartnerVacant(t *testing.T) {
	m := NewMachine()

	res, err := m.Create(Negotiation{}, ActorMe, "neg-1", offerA())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Next.Mine == nil || res.Next.Mine.Status != StatusRequest {
		t.Errorf("expected own slot REQUEST, got %+v", res.Next.Mine)
	}
	if res.Next.Partner != nil {
		t.Errorf("expected partner slot vacant, got %+v", res.Next.Partner)
	}
	if res.Next.Mine.NegotiationID != "neg-1" {
		t.Errorf("expected owning negotiation id neg-1, got %q", res.Next.Mine.NegotiationID)
	}
	if len(res.Events) != 1 || res.Events[0] != KindSystemRequest {
		t.Errorf("expected SYSTEM_REQUEST event, got %v", res.Events)
	}
}

func TestCreate_FailsWhileNegotiationActive(t *testing.T) {
	m := NewMachine()
	active := Negotiation{
		ID:   "neg-1",
		Mine: &BookOffer{BookID: "book-x", Status: StatusRequest, NegotiationID: "neg-1"},
	}

	_, err := m.Create(active, ActorMe, "neg-2", offerA())
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestCreate_AllowedAfterTerminalState(t *testing.T) {
	m := NewMachine()
	rejected := Negotiation{
		ID:   "neg-1",
		Mine: &BookOffer{BookID: "book-x", Status: StatusRejected, NegotiationID: "neg-1"},
	}

	res, err := m.Create(rejected, ActorMe, "neg-2", offerA())
	if err != nil {
		t.Fatalf("create after rejection: %v", err)
	}
	if res.Next.ID != "neg-2" {
		t.Errorf("expected fresh negotiation id, got %q", res.Next.ID)
	}
}

func TestCreate_EmptyBookIsValidationError(t *testing.T) {
	m := NewMachine()
	_, err := m.Create(Negotiation{}, ActorMe, "neg-1", BookOffer{})
	if !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCounterOffer_FillsVacantSlot(t *testing.T) {
	m := NewMachine()
	current := Negotiation{
		ID:      "neg-1",
		Partner: &BookOffer{BookID: "book-x", Status: StatusRequest, NegotiationID: "neg-1"},
	}

	res, err := m.RespondWithCounterOffer(current, ActorMe, "neg-1", offerB())
	if err != nil {
		t.Fatalf("counter offer: %v", err)
	}
	if res.Next.Mine == nil || res.Next.Mine.Status != StatusRequest {
		t.Errorf("expected own slot REQUEST, got %+v", res.Next.Mine)
	}
	if res.Next.Partner.Status != StatusRequest {
		t.Errorf("partner slot must stay REQUEST, got %s", res.Next.Partner.Status)
	}
}

func TestCounterOffer_RejectsOccupiedSlot(t *testing.T) {
	m := NewMachine()
	current := Negotiation{
		ID:      "neg-1",
		Mine:    &BookOffer{BookID: "book-y", Status: StatusRequest, NegotiationID: "neg-1"},
		Partner: &BookOffer{BookID: "book-x", Status: StatusRequest, NegotiationID: "neg-1"},
	}

	_, err := m.RespondWithCounterOffer(current, ActorMe, "neg-1", offerB())
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestCounterOffer_StaleIDIsExpired(t *testing.T) {
	m := NewMachine()
	current := Negotiation{
		ID:      "neg-2",
		Partner: &BookOffer{BookID: "book-x", Status: StatusRequest, NegotiationID: "neg-2"},
	}

	_, err := m.RespondWithCounterOffer(current, ActorMe, "neg-1", offerB())
	if !IsExpiredReference(err) {
		t.Fatalf("expected ExpiredReferenceError, got %v", err)
	}
}

// Mirrors the canonical two-party flow: A creates, B counters, A accepts,
// B accepts, engine derives RESERVED.
func TestMutualAccept_DerivesReserved(t *testing.T) {
	m := NewMachine()

	// A's view: A creates a negotiation for book X.
	resA, err := m.Create(Negotiation{}, ActorMe, "neg-1", offerA())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// B responds with book Y. From A's perspective that is the partner slot.
	viewA := resA.Next.Clone()
	counter := offerB()
	counter.Status = StatusRequest
	counter.NegotiationID = "neg-1"
	viewA.Partner = &counter

	// A accepts B's offer: partner slot ACCEPTED, own slot unchanged.
	resA, err = m.Accept(viewA, ActorMe, "neg-1")
	if err != nil {
		t.Fatalf("accept by A: %v", err)
	}
	if resA.Next.Partner.Status != StatusAccepted {
		t.Errorf("expected partner slot ACCEPTED, got %s", resA.Next.Partner.Status)
	}
	if resA.Next.Mine.Status != StatusRequest {
		t.Errorf("own slot must be unchanged, got %s", resA.Next.Mine.Status)
	}
	if resA.Next.Reserved() {
		t.Error("reserved must not derive from a single accept")
	}

	// B accepts A's offer, arriving as a partner-actor transition.
	resA, err = m.Accept(resA.Next, ActorPartner, "neg-1")
	if err != nil {
		t.Fatalf("accept by B: %v", err)
	}
	if !resA.Next.Reserved() {
		t.Error("expected RESERVED after both accepts")
	}
	if len(resA.Events) != 2 || resA.Events[1] != KindSystemReserved {
		t.Errorf("expected derived SYSTEM_RESERVED event, got %v", resA.Events)
	}
}

func TestAccept_SecondAcceptIsIdempotentNoOp(t *testing.T) {
	m := NewMachine()
	current := Negotiation{
		ID:      "neg-1",
		Mine:    &BookOffer{BookID: "book-y", Status: StatusRequest, NegotiationID: "neg-1"},
		Partner: &BookOffer{BookID: "book-x", Status: StatusAccepted, NegotiationID: "neg-1"},
	}

	res, err := m.Accept(current, ActorMe, "neg-1")
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if !res.NoOp {
		t.Error("expected no-op on already-accepted slot")
	}
	if len(res.Events) != 0 {
		t.Errorf("no-op must emit no events, got %v", res.Events)
	}
	if res.Next.Partner.Status != StatusAccepted {
		t.Errorf("state must be unchanged, got %s", res.Next.Partner.Status)
	}
}

func TestAccept_PendingTreatedAsOpenRequest(t *testing.T) {
	m := NewMachine()
	current := Negotiation{
		ID:      "neg-1",
		Partner: &BookOffer{BookID: "book-x", Status: StatusPending, NegotiationID: "neg-1"},
	}

	res, err := m.Accept(current, ActorMe, "neg-1")
	if err != nil {
		t.Fatalf("accept on PENDING: %v", err)
	}
	if res.Next.Partner.Status != StatusAccepted {
		t.Errorf("expected ACCEPTED, got %s", res.Next.Partner.Status)
	}
}

func TestAccept_AfterCancelIsConflict(t *testing.T) {
	m := NewMachine()

	// A cancels while still REQUEST.
	viewA := Negotiation{
		ID:   "neg-1",
		Mine: &BookOffer{BookID: "book-x", Status: StatusRequest, NegotiationID: "neg-1"},
	}
	res, err := m.Cancel(viewA, ActorMe, "neg-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Next.Mine.Status != StatusCanceled {
		t.Errorf("expected CANCELED, got %s", res.Next.Mine.Status)
	}

	// B then attempts accept on the same id; from B's view the canceled
	// offer sits in the partner slot.
	viewB := Negotiation{
		ID:      "neg-1",
		Partner: &BookOffer{BookID: "book-x", Status: StatusCanceled, NegotiationID: "neg-1"},
	}
	_, err = m.Accept(viewB, ActorMe, "neg-1")
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError after cancel, got %v", err)
	}
}

func TestReject_MarksCounterpartySlotTerminal(t *testing.T) {
	m := NewMachine()
	current := Negotiation{
		ID:      "neg-1",
		Partner: &BookOffer{BookID: "book-x", Status: StatusRequest, NegotiationID: "neg-1"},
	}

	res, err := m.Reject(current, ActorMe, "neg-1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Next.Partner.Status != StatusRejected {
		t.Errorf("expected REJECTED, got %s", res.Next.Partner.Status)
	}
	if res.Next.Active() {
		t.Error("single-slot negotiation must be inactive after rejection")
	}
}

func TestCancel_OnlyOwnOpenRequest(t *testing.T) {
	m := NewMachine()
	current := Negotiation{
		ID:      "neg-1",
		Partner: &BookOffer{BookID: "book-x", Status: StatusRequest, NegotiationID: "neg-1"},
	}

	_, err := m.Cancel(current, ActorMe, "neg-1")
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError canceling without own offer, got %v", err)
	}

	accepted := Negotiation{
		ID:   "neg-1",
		Mine: &BookOffer{BookID: "book-x", Status: StatusAccepted, NegotiationID: "neg-1"},
	}
	_, err = m.Cancel(accepted, ActorMe, "neg-1")
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError canceling an accepted offer, got %v", err)
	}
}

func TestComplete_OnlyFromReserved(t *testing.T) {
	m := NewMachine()
	reserved := Negotiation{
		ID:      "neg-1",
		Mine:    &BookOffer{BookID: "book-y", Status: StatusAccepted, NegotiationID: "neg-1"},
		Partner: &BookOffer{BookID: "book-x", Status: StatusAccepted, NegotiationID: "neg-1"},
	}

	res, err := m.Complete(reserved, ActorMe)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Next.Mine.Status != StatusExchanged || res.Next.Partner.Status != StatusExchanged {
		t.Errorf("expected both slots EXCHANGED, got %+v", res.Next)
	}

	half := reserved.Clone()
	half.Partner.Status = StatusRequest
	_, err = m.Complete(half, ActorMe)
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError before mutual accept, got %v", err)
	}
}

func TestReturn_ClearsSlotsToVacant(t *testing.T) {
	m := NewMachine()
	exchanged := Negotiation{
		ID:      "neg-1",
		Mine:    &BookOffer{BookID: "book-y", Status: StatusExchanged, NegotiationID: "neg-1"},
		Partner: &BookOffer{BookID: "book-x", Status: StatusExchanged, NegotiationID: "neg-1"},
	}

	res, err := m.Return(exchanged, ActorPartner)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if !res.Next.Vacant() {
		t.Errorf("expected vacant slots after return, got %+v", res.Next)
	}
	if len(res.Events) != 1 || res.Events[0] != KindSystemReturned {
		t.Errorf("expected SYSTEM_RETURNED event, got %v", res.Events)
	}

	// A fresh negotiation may now be created.
	if _, err := m.Create(res.Next, ActorMe, "neg-2", offerA()); err != nil {
		t.Errorf("create after return: %v", err)
	}
}

func TestReturn_BeforeExchangeIsConflict(t *testing.T) {
	m := NewMachine()
	reserved := Negotiation{
		ID:      "neg-1",
		Mine:    &BookOffer{BookID: "book-y", Status: StatusAccepted, NegotiationID: "neg-1"},
		Partner: &BookOffer{BookID: "book-x", Status: StatusAccepted, NegotiationID: "neg-1"},
	}
	_, err := m.Return(reserved, ActorMe)
	if !IsConflict(err) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestStaleReference_AlwaysExpired(t *testing.T) {
	m := NewMachine()
	current := Negotiation{
		ID:   "neg-2",
		Mine: &BookOffer{BookID: "book-x", Status: StatusRequest, NegotiationID: "neg-2"},
	}

	if _, err := m.Accept(current, ActorMe, "neg-1"); !IsExpiredReference(err) {
		t.Errorf("accept: expected ExpiredReferenceError, got %v", err)
	}
	if _, err := m.Reject(current, ActorMe, "neg-1"); !IsExpiredReference(err) {
		t.Errorf("reject: expected ExpiredReferenceError, got %v", err)
	}
	if _, err := m.Cancel(current, ActorMe, "neg-1"); !IsExpiredReference(err) {
		t.Errorf("cancel: expected ExpiredReferenceError, got %v", err)
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := Negotiation{
		ID:   "neg-1",
		Mine: &BookOffer{BookID: "book-x", Status: StatusRequest, NegotiationID: "neg-1"},
	}
	clone := orig.Clone()
	clone.Mine.Status = StatusCanceled

	if orig.Mine.Status != StatusRequest {
		t.Errorf("clone mutation leaked into original: %s", orig.Mine.Status)
	}
}

func TestDisplayStatus(t *testing.T) {
	cases := []struct {
		name string
		n    Negotiation
		want SlotStatus
	}{
		{"vacant", Negotiation{}, ""},
		{"single request", Negotiation{ID: "n", Mine: &BookOffer{Status: StatusRequest}}, StatusRequest},
		{"reserved", Negotiation{ID: "n",
			Mine:    &BookOffer{Status: StatusAccepted},
			Partner: &BookOffer{Status: StatusAccepted}}, StatusReserved},
		{"exchanged", Negotiation{ID: "n",
			Mine:    &BookOffer{Status: StatusExchanged},
			Partner: &BookOffer{Status: StatusExchanged}}, StatusExchanged},
		{"rejected wins over open", Negotiation{ID: "n",
			Mine:    &BookOffer{Status: StatusRequest},
			Partner: &BookOffer{Status: StatusRejected}}, StatusRejected},
	}

	for _, tc := range cases {
		if got := tc.n.DisplayStatus(); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}
