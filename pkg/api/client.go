// Package api is the REST client for the exchange service's mutation and
// query endpoints. It translates HTTP failures into the shared error
// taxonomy: 409 into ConflictError, 410 into ExpiredReferenceError, 400 into
// ValidationError, anything transport-level or 5xx into NetworkError.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tinyland-inc/bookswap/pkg/exchange"
	"github.com/tinyland-inc/bookswap/pkg/logger"
)

const defaultTimeout = 10 * time.Second

// Client calls the remote exchange service.
type Client struct {
	rc *resty.Client
}

// errorBody is the service's error envelope.
type errorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	NegotiationID string `json:"negotiation_id,omitempty"`
}

// NewClient creates a Client for the given base URL. The auth token, when
// non-empty, is sent as a bearer token on every request.
func NewClient(baseURL, authToken string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json")
	if authToken != "" {
		rc.SetAuthToken(authToken)
	}
	return &Client{rc: rc}
}

// CreateExchangeRequest is the body for POST /exchange-requests. A non-empty
// NegotiationID binds the offer to an open negotiation as a counter-offer;
// empty means a brand-new negotiation.
type CreateExchangeRequest struct {
	ConversationID string `json:"conversation_id"`
	BookID         string `json:"book_id"`
	NegotiationID  string `json:"negotiation_id,omitempty"`
}

type createExchangeResponse struct {
	NegotiationID string `json:"negotiation_id"`
}

// CreateExchange creates a negotiation (or a counter-offer within one) and
// returns the server-assigned negotiation id.
func (c *Client) CreateExchange(ctx context.Context, req CreateExchangeRequest) (string, error) {
	var out createExchangeResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&errorBody{}).
		Post("/exchange-requests")
	if err := classify("create_exchange", resp, err); err != nil {
		return "", err
	}
	return out.NegotiationID, nil
}

// Accept accepts the counterparty's outstanding offer.
func (c *Client) Accept(ctx context.Context, negotiationID string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetError(&errorBody{}).
		Patch("/exchange-requests/" + negotiationID + "/accept")
	return classify("accept", resp, err)
}

// Reject rejects the counterparty's outstanding offer.
func (c *Client) Reject(ctx context.Context, negotiationID string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetError(&errorBody{}).
		Patch("/exchange-requests/" + negotiationID + "/reject")
	return classify("reject", resp, err)
}

// Cancel withdraws the caller's own pending request.
func (c *Client) Cancel(ctx context.Context, negotiationID string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetError(&errorBody{}).
		Delete("/exchange-requests/" + negotiationID + "/cancel")
	return classify("cancel", resp, err)
}

// Complete marks the reserved exchange as completed.
func (c *Client) Complete(ctx context.Context, conversationID string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetError(&errorBody{}).
		Patch("/conversations/" + conversationID + "/exchange/complete")
	return classify("complete", resp, err)
}

// Return marks the loaned book as returned after an exchange.
func (c *Client) Return(ctx context.Context, conversationID string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetError(&errorBody{}).
		Patch("/conversations/" + conversationID + "/exchange/return")
	return classify("return", resp, err)
}

// LeaveConversation purges the caller's view of a conversation. This is a
// deliberate user action, distinct from closing the conversation view, which
// only tears down the transport session.
func (c *Client) LeaveConversation(ctx context.Context, conversationID string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetError(&errorBody{}).
		Delete("/conversations/" + conversationID)
	return classify("leave_conversation", resp, err)
}

// ConversationSummary is one row of the conversation list: the partner plus
// a last-message preview.
type ConversationSummary struct {
	ID            string    `json:"id"`
	PartnerID     string    `json:"partner_id"`
	PartnerName   string    `json:"partner_name,omitempty"`
	LastMessage   string    `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
	UnreadCount   int       `json:"unread_count,omitempty"`
}

type conversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
}

// Conversations lists the caller's conversations, most recently active first.
func (c *Client) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	var out conversationsResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errorBody{}).
		Get("/conversations")
	if err := classify("conversations", resp, err); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

type booksResponse struct {
	NegotiationID string              `json:"negotiation_id"`
	Mine          *exchange.BookOffer `json:"mine"`
	Partner       *exchange.BookOffer `json:"partner"`
}

// Books fetches the authoritative {mine, partner} offer pair for a
// conversation. An empty negotiation id with nil slots means no request is
// outstanding.
func (c *Client) Books(ctx context.Context, conversationID string) (exchange.Negotiation, error) {
	var out booksResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errorBody{}).
		Get("/conversations/" + conversationID + "/books")
	if err := classify("books", resp, err); err != nil {
		return exchange.Negotiation{}, err
	}
	return exchange.Negotiation{ID: out.NegotiationID, Mine: out.Mine, Partner: out.Partner}, nil
}

// MessagesPage is one page of historical messages, oldest first, plus the
// cursor for the next-older page. An empty cursor means history is exhausted.
type MessagesPage struct {
	Messages   []exchange.Message `json:"messages"`
	NextCursor string             `json:"next_cursor"`
}

// Messages fetches a page of historical messages before the given cursor.
func (c *Client) Messages(ctx context.Context, conversationID, cursor string, limit int) (MessagesPage, error) {
	req := c.rc.R().
		SetContext(ctx).
		SetError(&errorBody{})
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}
	if limit > 0 {
		req.SetQueryParam("limit", fmt.Sprintf("%d", limit))
	}

	var out MessagesPage
	resp, err := req.SetResult(&out).Get("/conversations/" + conversationID + "/messages")
	if err := classify("messages", resp, err); err != nil {
		return MessagesPage{}, err
	}
	return out, nil
}

// classify maps a resty response into the shared error taxonomy.
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	if resp.IsSuccess() {
		return nil
	}

	reason := http.StatusText(resp.StatusCode())
	if body, ok := resp.Error().(*errorBody); ok && body.Message != "" {
		reason = body.Message
	}

	logger.WarnCF("api", "Request failed", map[string]any{
		"op":     op,
		"status": resp.StatusCode(),
		"reason": reason,
	})

	switch {
	case resp.StatusCode() == http.StatusConflict:
		return &exchange.ConflictError{Op: op, Reason: reason}
	case resp.StatusCode() == http.StatusGone:
		id := ""
		if body, ok := resp.Error().(*errorBody); ok {
			id = body.NegotiationID
		}
		return &exchange.ExpiredReferenceError{NegotiationID: id}
	case resp.StatusCode() == http.StatusBadRequest:
		return &exchange.ValidationError{Field: op, Reason: reason}
	case resp.StatusCode() >= http.StatusInternalServerError:
		return &NetworkError{Op: op, Err: fmt.Errorf("server returned %d: %s", resp.StatusCode(), reason)}
	default:
		return fmt.Errorf("api: %s: unexpected status %d: %s", op, resp.StatusCode(), reason)
	}
}
