package db

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"inkwell/internal/types"
)

// SettingsRepository is the read path into the digest_settings table, owned
// by the account-settings subsystem. The queue core never writes to it.
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a SettingsRepository backed by the given
// connection (pool or transaction).
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// ListEnabledForSlot returns enabled settings whose time_slot matches the
// given "HH:00" slot.
func (r *SettingsRepository) ListEnabledForSlot(ctx context.Context, slot string) ([]types.EligibilitySetting, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, enabled, time_slot, timezone, preferences
		 FROM digest_settings
		 WHERE enabled = true AND time_slot = $1`,
		slot,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list eligibility settings", err)
	}
	defer rows.Close()

	return scanSettings(rows)
}

// ListAllEnabled returns every enabled setting regardless of time slot.
// Used by the admin process-all trigger.
func (r *SettingsRepository) ListAllEnabled(ctx context.Context) ([]types.EligibilitySetting, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, enabled, time_slot, timezone, preferences
		 FROM digest_settings
		 WHERE enabled = true`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list enabled settings", err)
	}
	defer rows.Close()

	return scanSettings(rows)
}

func scanSettings(rows pgx.Rows) ([]types.EligibilitySetting, error) {
	var settings []types.EligibilitySetting
	for rows.Next() {
		var (
			s     types.EligibilitySetting
			prefs []byte
		)
		if err := rows.Scan(&s.UserID, &s.Enabled, &s.TimeSlot, &s.Timezone, &prefs); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan eligibility setting", err)
		}
		if len(prefs) > 0 {
			_ = json.Unmarshal(prefs, &s.Preferences)
		}
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating eligibility settings", err)
	}
	return settings, nil
}

// RecipientRepository resolves a user ID to their delivery identity from the
// accounts table. Read-only to the queue core.
type RecipientRepository struct {
	db DBTX
}

// NewRecipientRepository creates a RecipientRepository backed by the given
// connection (pool or transaction).
func NewRecipientRepository(db DBTX) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// Resolve returns the recipient profile for the user, or a not-found
// AppError when the user does not exist.
func (r *RecipientRepository) Resolve(ctx context.Context, userID string) (*types.Recipient, error) {
	var (
		rec      types.Recipient
		name     *string
		timezone *string
	)

	err := r.db.QueryRow(ctx,
		`SELECT id, email, display_name, timezone
		 FROM users
		 WHERE id = $1`,
		userID,
	).Scan(&rec.UserID, &rec.Address, &name, &timezone)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve recipient", err)
	}

	if name != nil {
		rec.DisplayName = *name
	}
	if timezone != nil {
		rec.Timezone = *timezone
	}

	return &rec, nil
}
