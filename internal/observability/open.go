package observability

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/canonica-labs/querio/internal/storage"
)

// AuditSettings selects the audit logger.
type AuditSettings struct {
	Enabled bool
	Driver  string
	DSN     string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenAuditLogger returns a PersistentLogger over a migrated store when
// audit is enabled, and a ZapAuditLogger otherwise. The returned closer
// releases the store and is never nil.
func OpenAuditLogger(ctx context.Context, s AuditSettings, logger *zap.Logger) (AdviceLogger, io.Closer, error) {
	if !s.Enabled {
		return NewZapAuditLogger(logger), nopCloser{}, nil
	}

	store, err := storage.Open(ctx, s.Driver, s.DSN)
	if err != nil {
		return nil, nil, err
	}
	audit, err := NewPersistentLoggerWithMirror(store.DB, store.Dialect, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return audit, store, nil
}
