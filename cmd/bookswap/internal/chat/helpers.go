package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/bookswap/cmd/bookswap/internal"
	"github.com/tinyland-inc/bookswap/pkg/api"
	"github.com/tinyland-inc/bookswap/pkg/bus"
	"github.com/tinyland-inc/bookswap/pkg/config"
	"github.com/tinyland-inc/bookswap/pkg/exchange"
	"github.com/tinyland-inc/bookswap/pkg/history"
	"github.com/tinyland-inc/bookswap/pkg/msgstore"
	"github.com/tinyland-inc/bookswap/pkg/reconcile"
	"github.com/tinyland-inc/bookswap/pkg/transport"
)

type session struct {
	cfg      *config.Config
	convID   string
	ch       *transport.Channel
	store    *msgstore.Store
	engine   *reconcile.Engine
	timeline *history.Reconstructor
	client   *api.Client
	rl       *readline.Instance
}

func chatCmd(cfg *config.Config, convID string) error {
	client := api.NewClient(cfg.API.BaseURL, cfg.API.AuthToken)
	store := msgstore.New(convID, cfg.User.ID, client, cfg.Messages.PageSize)
	engine := reconcile.New(convID, cfg.User.ID, client, store)

	manager := transport.NewManager(cfg.Transport.WSBaseURL,
		transport.WithBackoff(cfg.Transport.BackoffMin, cfg.Transport.BackoffMax))
	ch := manager.Acquire(convID)
	defer manager.Release(convID)

	s := &session{
		cfg:      cfg,
		convID:   convID,
		ch:       ch,
		store:    store,
		engine:   engine,
		timeline: history.New(cfg.User.ID, store, cfg.User.PeerNames),
		client:   client,
	}

	// Transport callbacks publish to the bus; the pump goroutine owns all
	// terminal writes that race the prompt.
	updates := bus.NewUpdateBus()
	defer updates.Close()
	bg := context.Background()

	unsubMsg := ch.OnMessage(func(env transport.Envelope) {
		engine.HandleEnvelope(env)
		if env.SenderID != cfg.User.ID {
			_ = updates.Publish(bg, bus.Update{
				Kind:    bus.UpdateMessage,
				Message: msgstore.FromEnvelope(convID, env),
			})
		}
	})
	defer unsubMsg()
	unsubConn := ch.OnConnect(func() {
		_ = updates.Publish(bg, bus.Update{Kind: bus.UpdateConnectivity, Connected: true})
	})
	defer unsubConn()
	unsubDrop := ch.OnDisconnect(func() {
		_ = updates.Publish(bg, bus.Update{Kind: bus.UpdateConnectivity})
	})
	defer unsubDrop()

	go s.pump(updates)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if _, err := store.FetchOlder(ctx); err != nil {
		fmt.Printf("Could not load history: %v\n", err)
	}
	if err := engine.Refresh(ctx); err != nil {
		fmt.Printf("Could not load exchange state: %v\n", err)
	}
	cancel()

	s.printBacklog()
	s.printStatus()
	fmt.Printf("%s Type a message, or /help for exchange commands (Ctrl+C to exit)\n\n", internal.Logo)

	return s.repl()
}

func (s *session) repl() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s You: ", internal.Logo),
		HistoryFile:     filepath.Join(os.TempDir(), ".bookswap_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("error initializing readline: %w", err)
	}
	defer rl.Close()
	s.rl = rl

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		if strings.HasPrefix(input, "/") {
			if quit := s.runCommand(input); quit {
				return nil
			}
			continue
		}

		s.sendText(input)
	}
}

func (s *session) runCommand(input string) (quit bool) {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch cmd {
	case "/help":
		s.printHelp()
	case "/offer":
		if len(args) != 1 {
			fmt.Println("Usage: /offer <book-id>")
			return false
		}
		id, err := s.engine.CreateOffer(ctx, exchange.BookOffer{BookID: args[0], OwnerID: s.cfg.User.ID})
		if err != nil {
			s.printError("offer", err)
			return false
		}
		fmt.Printf("Exchange requested (negotiation %s).\n", id)
	case "/counter":
		if len(args) != 1 {
			fmt.Println("Usage: /counter <book-id>")
			return false
		}
		negID, ok := s.activeNegotiationID()
		if !ok {
			return false
		}
		offer := exchange.BookOffer{BookID: args[0], OwnerID: s.cfg.User.ID}
		if err := s.engine.CounterOffer(ctx, negID, offer); err != nil {
			s.printError("counter", err)
			return false
		}
		fmt.Println("Counter-offer sent; both sides can now accept.")
	case "/accept":
		negID, ok := s.activeNegotiationID()
		if !ok {
			return false
		}
		if err := s.engine.Accept(ctx, negID); err != nil {
			s.printError("accept", err)
			return false
		}
		s.printStatus()
	case "/reject":
		negID, ok := s.activeNegotiationID()
		if !ok {
			return false
		}
		if err := s.engine.Reject(ctx, negID); err != nil {
			s.printError("reject", err)
			return false
		}
		s.printStatus()
	case "/cancel":
		negID, ok := s.activeNegotiationID()
		if !ok {
			return false
		}
		if err := s.engine.Cancel(ctx, negID); err != nil {
			s.printError("cancel", err)
			return false
		}
		s.printStatus()
	case "/complete":
		if err := s.engine.Complete(ctx); err != nil {
			s.printError("complete", err)
			return false
		}
		s.printStatus()
	case "/return":
		if err := s.engine.Return(ctx); err != nil {
			s.printError("return", err)
			return false
		}
		fmt.Println("Book returned; the conversation is open for a new exchange.")
	case "/status":
		s.printStatus()
	case "/history":
		s.printTimeline()
	case "/older":
		n, err := s.store.FetchOlder(ctx)
		if err != nil {
			s.printError("older", err)
			return false
		}
		if n == 0 {
			fmt.Println("No older messages.")
			return false
		}
		fmt.Printf("Loaded %d older messages; scrollback updated.\n", n)
		s.printBacklog()
	case "/read":
		s.store.MarkAllRead()
		fmt.Println("All messages marked read.")
	case "/leave":
		if err := s.client.LeaveConversation(ctx, s.convID); err != nil {
			s.printError("leave", err)
			return false
		}
		fmt.Println("Left conversation. Goodbye!")
		return true
	default:
		fmt.Printf("Unknown command %s; try /help\n", cmd)
	}
	return false
}

func (s *session) sendText(content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ch.Send(ctx, content); err != nil {
		if transport.IsNotConnected(err) {
			fmt.Println("Not connected; message not sent. It will NOT be retried automatically.")
			return
		}
		fmt.Printf("Send failed: %v\n", err)
	}
}

// activeNegotiationID resolves the negotiation the exchange commands target.
func (s *session) activeNegotiationID() (string, bool) {
	neg := s.engine.Negotiation()
	if neg.ID == "" || neg.Vacant() {
		fmt.Println("No active negotiation; start one with /offer <book-id>.")
		return "", false
	}
	return neg.ID, true
}

func (s *session) printBacklog() {
	msgs := s.store.Snapshot()
	const tail = 20
	if len(msgs) > tail {
		msgs = msgs[len(msgs)-tail:]
	}
	for _, m := range msgs {
		s.printMessage(m)
	}
	if unread := s.store.UnreadCount(); unread > 0 {
		fmt.Printf("(%d unread)\n", unread)
	}
}

func (s *session) printMessage(m exchange.Message) {
	when := m.SentAt.Local().Format("15:04")
	name := s.cfg.PeerName(m.SenderID)
	if m.SenderID == s.cfg.User.ID {
		name = "You"
	}
	if m.Kind.IsSystem() {
		fmt.Printf("  %s ⇄ %s: %s\n", when, name, m.Kind.StatusLabel())
		return
	}
	fmt.Printf("  %s %s: %s\n", when, name, m.Content)
}

// pump drains the update bus, writing each update above the prompt.
func (s *session) pump(updates *bus.UpdateBus) {
	ctx := context.Background()
	for {
		u, ok := updates.Consume(ctx)
		if !ok {
			return
		}
		switch u.Kind {
		case bus.UpdateMessage:
			s.printMessage(u.Message)
		case bus.UpdateConnectivity:
			if u.Connected {
				fmt.Println("● connected")
			} else {
				fmt.Println("○ disconnected, reconnecting…")
			}
		}
		if s.rl != nil {
			s.rl.Refresh()
		}
	}
}

func (s *session) printStatus() {
	neg := s.engine.Negotiation()
	conn := "○ disconnected"
	if s.ch.Connected() {
		conn = "● connected"
	}
	if neg.Vacant() {
		fmt.Printf("%s | no exchange outstanding\n", conn)
		return
	}
	fmt.Printf("%s | negotiation %s [%s]\n", conn, neg.ID, neg.DisplayStatus())
	printSlot("you offer", neg.Mine)
	printSlot("they offer", neg.Partner)
}

func printSlot(label string, offer *exchange.BookOffer) {
	if offer == nil {
		fmt.Printf("  %-10s (nothing yet)\n", label)
		return
	}
	title := offer.Title
	if title == "" {
		title = offer.BookID
	}
	fmt.Printf("  %-10s %s [%s]\n", label, title, offer.Status)
}

func (s *session) printTimeline() {
	neg := s.engine.Negotiation()
	if neg.ID == "" {
		fmt.Println("No negotiation to show history for.")
		return
	}
	tl := s.timeline.Timeline(neg.ID, neg)
	if tl.Expired {
		fmt.Printf("Negotiation %s has expired.\n", tl.NegotiationID)
	}
	if len(tl.Entries) == 0 {
		fmt.Println("No exchange events yet.")
		return
	}
	for _, e := range tl.Entries {
		who := e.ActorName
		if e.Actor == exchange.ActorMe {
			who = "You"
		}
		fmt.Printf("  %s  %-10s %s\n", e.Timestamp.Local().Format("Jan 2 15:04"), e.Status, who)
	}
}

func (s *session) printError(op string, err error) {
	switch {
	case exchange.IsValidation(err):
		fmt.Printf("Invalid %s: %v\n", op, err)
	case exchange.IsConflict(err):
		fmt.Printf("Rejected by current exchange state: %v\nState refreshed; check /status before retrying.\n", err)
	case exchange.IsExpiredReference(err):
		fmt.Println("That negotiation is no longer current. State refreshed; check /status.")
	case api.IsNetwork(err):
		fmt.Printf("Network problem, nothing changed: %v\nRetry when connected.\n", err)
	default:
		fmt.Printf("%s failed: %v\n", op, err)
	}
}

func (s *session) printHelp() {
	fmt.Print(`Exchange commands:
  /offer <book-id>    request an exchange for one of your books
  /counter <book-id>  respond to their request with your own book
  /accept             accept their outstanding offer
  /reject             reject their outstanding offer
  /cancel             withdraw your own pending request
  /complete           mark the reserved exchange as done
  /return             mark the borrowed book as returned
Conversation commands:
  /status             connection + negotiation summary
  /history            negotiation event timeline
  /older              load older messages
  /read               mark all messages read
  /leave              leave this conversation permanently
  exit                close this view (does not leave the conversation)
`)
}
