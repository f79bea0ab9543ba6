// Package limits implements the admission gate consulted before any write
// for an inbound event. Decisions are pure queries against externally
// maintained counters; a failed check is treated as a denial so an
// unreachable counter service can never let traffic past a ceiling.
package limits

import (
	"context"
	"log/slog"

	"github.com/tzuhan/linevault/internal/database"
)

// Limiter decides whether a new user or a new message may be admitted.
type Limiter interface {
	// CanAdmitUser reports whether an event from the given platform user id
	// may proceed. Known users are always admitted; unseen users only while
	// the user ceiling has headroom.
	CanAdmitUser(ctx context.Context, lineUserID string) bool

	// CanAdmitMessage reports whether another message may be recorded.
	CanAdmitMessage(ctx context.Context) bool
}

type storeLimiter struct {
	store  database.Store
	logger *slog.Logger
}

// NewLimiter creates a Limiter backed by the store's counter tables.
func NewLimiter(store database.Store, logger *slog.Logger) Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &storeLimiter{
		store:  store,
		logger: logger.With("component", "limiter"),
	}
}

func (l *storeLimiter) CanAdmitUser(ctx context.Context, lineUserID string) bool {
	ok, err := l.store.CheckUserAdmission(ctx, lineUserID)
	if err != nil {
		// Fail closed: an unverifiable ceiling counts as a full one.
		l.logger.ErrorContext(ctx, "User admission check failed, denying",
			"line_user_id", lineUserID, "error", err)
		return false
	}

	if !ok {
		l.logger.InfoContext(ctx, "User ceiling reached, rejecting new user", "line_user_id", lineUserID)
	}
	return ok
}

func (l *storeLimiter) CanAdmitMessage(ctx context.Context) bool {
	ok, err := l.store.CheckMessageAdmission(ctx)
	if err != nil {
		l.logger.ErrorContext(ctx, "Message admission check failed, denying", "error", err)
		return false
	}

	if !ok {
		l.logger.InfoContext(ctx, "Message ceiling reached, rejecting message")
	}
	return ok
}
