package repo

import (
	"context"
	"errors"
	"fmt"

	"pwdemo/internal/domain"
)

var ErrNotFound = errors.New("not found")

// ErrMissingCompletedAt is returned when a terminal status is set without a
// completion timestamp.
var ErrMissingCompletedAt = errors.New("terminal status requires completedAt")

// InvalidStateError is returned when a transition is attempted from a status
// that does not allow it. Current carries the unchanged status.
type InvalidStateError struct {
	ID      string
	Current string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("protocol %s is %s", e.ID, e.Current)
}

// ProtocolFilter narrows a protocol listing. Empty fields match everything.
type ProtocolFilter struct {
	UserID string
	Status string
}

func (f ProtocolFilter) match(p domain.Protocol) bool {
	if f.UserID != "" && p.AssigneeID != f.UserID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}

// ProtocolStore owns user and protocol records. Memory and SQL implement it
// with identical ordering, filter and count semantics.
type ProtocolStore interface {
	Users(ctx context.Context) ([]domain.User, error)
	Protocols(ctx context.Context, f ProtocolFilter) ([]domain.Protocol, error)
	Protocol(ctx context.Context, id string) (domain.Protocol, error)
	CountOpenForUser(ctx context.Context, userID string) (int, error)
	// UpdateProtocolStatus sets the status of an open protocol. A terminal
	// status needs completedAt; a protocol that is already terminal yields
	// *InvalidStateError.
	UpdateProtocolStatus(ctx context.Context, id, status string, completedAt *string) error
	// CloseProtocol atomically moves an open protocol to closed. It returns
	// ErrNotFound or *InvalidStateError without mutating anything otherwise.
	CloseProtocol(ctx context.Context, id, completedAt string) (domain.Protocol, error)
	Reset(ctx context.Context) (int, error)
	// Kind names the backend: memory, sqlite or postgres.
	Kind() string
	Close() error
}

func checkStatusUpdate(status string, completedAt *string) error {
	if !domain.IsOpenStatus(status) && (completedAt == nil || *completedAt == "") {
		return ErrMissingCompletedAt
	}
	return nil
}

// completionStamp keeps completedAt set only for terminal statuses.
func completionStamp(status string, completedAt *string) *string {
	if domain.IsOpenStatus(status) {
		return nil
	}
	ts := *completedAt
	return &ts
}

// FindUser returns the user with the given id, or false.
func FindUser(users []domain.User, id string) (domain.User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return domain.User{}, false
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
