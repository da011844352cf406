package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/tinyland-inc/bookswap/pkg/exchange"
)

func TestPublishConsumeOrder(t *testing.T) {
	ub := NewUpdateBus()
	defer ub.Close()
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three"} {
		err := ub.Publish(ctx, Update{Kind: UpdateMessage, Message: exchange.Message{Content: content}})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		u, ok := ub.Consume(ctx)
		if !ok {
			t.Fatal("bus closed early")
		}
		if u.Message.Content != want {
			t.Errorf("got %q, want %q", u.Message.Content, want)
		}
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	ub := NewUpdateBus()
	ub.Close()

	err := ub.Publish(context.Background(), Update{Kind: UpdateConnectivity, Connected: true})
	if !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
	if _, ok := ub.Consume(context.Background()); ok {
		t.Error("consume on closed bus must report closed")
	}
}

func TestConsumeHonorsContext(t *testing.T) {
	ub := NewUpdateBus()
	defer ub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := ub.Consume(ctx); ok {
		t.Error("canceled context must stop consumption")
	}
}
