// Package storage defines the narrow contract to the external credential
// store. The real database lives outside this service; the session core
// only hands cookies across this boundary.
package storage

import (
	"context"
	"log/slog"
)

// CredentialStore persists LinkedIn authentication cookies for a user.
// Implementations must be safe for concurrent use.
type CredentialStore interface {
	// SaveLinkedInCredentials stores the primary li_at cookie and the
	// optional li_a cookie (empty when absent). Called exactly once per
	// successful login.
	SaveLinkedInCredentials(ctx context.Context, userID, liAt, liA string) error
}

// LogStore is the default store: it records that a handoff happened
// without persisting anything. Used until a real backend is wired in and
// in tests.
type LogStore struct {
	Logger *slog.Logger
}

func (s *LogStore) SaveLinkedInCredentials(ctx context.Context, userID, liAt, liA string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("storage: credential handoff",
		"user", userID, "has_li_at", liAt != "", "has_li_a", liA != "")
	return nil
}
