package store

import (
	"context"
	"errors"
	"time"

	"github.com/crhan/planaudit/internal/models"
)

// ErrNotFound is returned when an audit does not exist.
var ErrNotFound = errors.New("audit not found")

// AuditListFilter specifies filters for listing audits.
type AuditListFilter struct {
	SessionID string
	Decision  models.Decision
	Limit     int
}

// Store defines the persistence interface for audit history.
type Store interface {
	CreateAudit(ctx context.Context, rec *models.AuditRecord) error
	GetAudit(ctx context.Context, id string) (*models.AuditRecord, error)
	ListAudits(ctx context.Context, filter AuditListFilter) ([]*models.AuditRecord, error)
	LatestAuditForSession(ctx context.Context, sessionID string) (*models.AuditRecord, error)
	PruneAudits(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
