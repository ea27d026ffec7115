package audit

import (
	"context"
	"encoding/json"

	"fidus-backend/internal/domain"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service writes and reads the append-only audit log.
type Service struct {
	DB *gorm.DB
}

// Record appends one audit entry. Best-effort by contract: a failed audit
// write is logged and swallowed so an audit outage can never make capital
// allocation unavailable. Callers must not treat it as transactional with
// the primary mutation.
func (s *Service) Record(ctx context.Context, entry *domain.AuditLogEntry) {
	if err := s.DB.WithContext(ctx).Create(entry).Error; err != nil {
		log.Error().Err(err).
			Str("action_type", string(entry.ActionType)).
			Str("account_number", entry.AccountNumber).
			Msg("Audit write failed; continuing without audit entry")
	}
}

// ListByAccount returns the newest entries for one account, newest first.
func (s *Service) ListByAccount(ctx context.Context, accountNumber string, limit int) ([]domain.AuditLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []domain.AuditLogEntry
	q := s.DB.WithContext(ctx).Order(`"createdAt" DESC`).Limit(limit)
	if accountNumber != "" {
		q = q.Where("account_number = ?", accountNumber)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Snapshot marshals a value for the old_values/new_values columns. Marshal
// failures degrade to null rather than blocking the mutation.
func Snapshot(v interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
