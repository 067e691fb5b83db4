// Package sessions persists session identities and their full logs.
package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/tether/pkg/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrMessageNotFound is returned when a rollback target is absent.
var ErrMessageNotFound = errors.New("message not found")

// Store is the interface for session persistence.
//
// SaveSession replaces the persisted log wholesale; the engine owns the
// in-memory truth and flushes it at run boundaries, so per-message appends
// would only invite divergence.
type Store interface {
	// LoadSession returns the session and its full log.
	LoadSession(ctx context.Context, id string) (*models.Session, []*models.Message, error)

	// SaveSession upserts the session and replaces its persisted log.
	SaveSession(ctx context.Context, session *models.Session, log []*models.Message) error

	// RollbackToMessage removes the identified message and everything
	// after it, returning the number of messages removed.
	RollbackToMessage(ctx context.Context, sessionID, messageID string) (int, error)

	// List returns sessions ordered by most recent activity.
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	// Delete removes a session and its log.
	Delete(ctx context.Context, id string) error

	// Close releases underlying resources.
	Close() error
}

// ListOptions configures session listing.
type ListOptions struct {
	Limit  int
	Offset int
}
