package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pwdemo/internal/domain"
	"pwdemo/internal/metrics"
	"pwdemo/internal/repo"
	"pwdemo/internal/webhook"
)

// ISO 8601 in UTC with millisecond precision, e.g. 2025-03-10T08:15:00.000Z.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Notifier delivers completion payloads. *webhook.Dispatcher implements it.
type Notifier interface {
	Send(ctx context.Context, p webhook.Payload) webhook.Result
}

// Engine must not be copied after first use.
type Engine struct {
	Store    repo.ProtocolStore
	Notifier Notifier
	Metrics  *metrics.Metrics
	Log      *slog.Logger
	Now      func() time.Time

	locks lockTable
}

func New(store repo.ProtocolStore, notifier Notifier) *Engine {
	return &Engine{
		Store:    store,
		Notifier: notifier,
		Log:      slog.Default(),
		Now:      time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// Completion is the combined outcome of closing a protocol.
type Completion struct {
	Protocol      domain.Protocol `json:"protocol"`
	Webhook       webhook.Payload `json:"webhook"`
	WebhookSent   bool            `json:"webhookSent"`
	WebhookDetail webhook.Result  `json:"webhookDetail"`
}

// ProtocolDetail is a protocol enriched with its assignee and the assignee's
// remaining open work.
type ProtocolDetail struct {
	domain.Protocol
	Assignee               *domain.User `json:"assignee,omitempty"`
	OpenProtocolsRemaining int          `json:"openProtocolsRemaining"`
}

func (e *Engine) Users(ctx context.Context) ([]domain.User, error) {
	users, err := e.Store.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Protocols lists protocols matching every non-empty filter field.
func (e *Engine) Protocols(ctx context.Context, f repo.ProtocolFilter) ([]domain.Protocol, error) {
	list, err := e.Store.Protocols(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list protocols: %w", err)
	}
	return list, nil
}

// Remaining counts the open protocols still assigned to a user.
func (e *Engine) Remaining(ctx context.Context, userID string) (int, error) {
	n, err := e.Store.CountOpenForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count open protocols for %s: %w", userID, err)
	}
	return n, nil
}

func (e *Engine) ProtocolDetail(ctx context.Context, id string) (ProtocolDetail, error) {
	p, err := e.Store.Protocol(ctx, id)
	if err != nil {
		return ProtocolDetail{}, err
	}
	assignee, err := e.assignee(ctx, p.AssigneeID)
	if err != nil {
		return ProtocolDetail{}, err
	}
	remaining, err := e.Remaining(ctx, p.AssigneeID)
	if err != nil {
		return ProtocolDetail{}, err
	}
	return ProtocolDetail{Protocol: p, Assignee: assignee, OpenProtocolsRemaining: remaining}, nil
}

// Complete closes an open protocol and notifies the webhook. The per-protocol
// lock covers check, mutation and recount and is released before the webhook
// round trip. A failed delivery does not undo the status change.
func (e *Engine) Complete(ctx context.Context, id string) (Completion, error) {
	unlock := e.locks.lock(id)
	closed, assignee, remaining, err := e.close(ctx, id)
	unlock()
	if err != nil {
		var ise *repo.InvalidStateError
		if errors.As(err, &ise) {
			e.Metrics.CompletionRejected("invalid_state")
		} else if errors.Is(err, repo.ErrNotFound) {
			e.Metrics.CompletionRejected("not_found")
		}
		return Completion{}, err
	}

	payload := webhook.BuildPayload(closed, assignee, remaining)
	var result webhook.Result
	if e.Notifier != nil {
		result = e.Notifier.Send(ctx, payload)
	} else {
		result = webhook.Result{Reason: webhook.ReasonNoURL}
	}
	return Completion{
		Protocol:      closed,
		Webhook:       payload,
		WebhookSent:   result.Sent,
		WebhookDetail: result,
	}, nil
}

func (e *Engine) close(ctx context.Context, id string) (domain.Protocol, *domain.User, int, error) {
	p, err := e.Store.Protocol(ctx, id)
	if err != nil {
		return domain.Protocol{}, nil, 0, err
	}
	if !domain.IsOpenStatus(p.Status) {
		return domain.Protocol{}, nil, 0, &repo.InvalidStateError{ID: id, Current: p.Status}
	}
	openBefore, err := e.Remaining(ctx, p.AssigneeID)
	if err != nil {
		return domain.Protocol{}, nil, 0, err
	}
	completedAt := e.now().UTC().Format(timestampLayout)
	closed, err := e.Store.CloseProtocol(ctx, id, completedAt)
	if err != nil {
		return domain.Protocol{}, nil, 0, err
	}
	e.Metrics.ProtocolCompleted()

	// From here on the protocol stays closed whatever fails.
	assignee, err := e.assignee(ctx, p.AssigneeID)
	if err != nil {
		return domain.Protocol{}, nil, 0, fmt.Errorf("protocol %s closed but assignee lookup failed: %w", id, err)
	}
	remaining, err := e.Remaining(ctx, p.AssigneeID)
	if err != nil {
		return domain.Protocol{}, nil, 0, fmt.Errorf("protocol %s closed but recount failed: %w", id, err)
	}
	if remaining != openBefore-1 {
		e.logger().Warn("remaining count drifted during completion",
			"protocol_id", id, "user_id", p.AssigneeID, "before", openBefore, "after", remaining)
	}
	e.logger().Info("protocol completed", "protocol_id", id, "user_id", p.AssigneeID, "remaining", remaining)
	return closed, assignee, remaining, nil
}

func (e *Engine) assignee(ctx context.Context, userID string) (*domain.User, error) {
	users, err := e.Users(ctx)
	if err != nil {
		return nil, err
	}
	u, ok := repo.FindUser(users, userID)
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// Reset restores the seed data and returns the protocol count.
func (e *Engine) Reset(ctx context.Context) (int, error) {
	n, err := e.Store.Reset(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset %s store: %w", e.Store.Kind(), err)
	}
	e.logger().Info("mock data reset", "backend", e.Store.Kind(), "protocols", n)
	return n, nil
}
