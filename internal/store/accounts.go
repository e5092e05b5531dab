package store

import (
	"context"

	"gorm.io/gorm/clause"
)

// AccountRow mirrors one provider account. Unlike other mirror tables the
// account is keyed by id alone; it is its own namespace.
type AccountRow struct {
	ID              string  `gorm:"column:id;primaryKey"`
	Object          string  `gorm:"column:object"`
	BusinessName    *string `gorm:"column:business_name"`
	Email           *string `gorm:"column:email"`
	Country         *string `gorm:"column:country"`
	DefaultCurrency *string `gorm:"column:default_currency"`
	Created         *string `gorm:"column:created"`
	Metadata        *string `gorm:"column:metadata"`
	Raw             *string `gorm:"column:raw"`
	Deleted         bool    `gorm:"column:deleted"`
	LastSyncedAt    string  `gorm:"column:last_synced_at"`
	UpdatedAt       string  `gorm:"column:updated_at"`
}

// EnsureAccount inserts an id-only account row unless one exists. Called
// lazily on first observation of an account from either ingestion path; the
// extended fields are filled by UpsertAccount when the engine resolves its
// own account or an account.* event arrives.
func (s *Store) EnsureAccount(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	now := Now()
	return s.db.WithContext(ctx).
		Table(s.table("accounts")).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&AccountRow{ID: accountID, Object: "account", LastSyncedAt: now, UpdatedAt: now}).Error
}

// UpsertAccount replaces the full account row.
func (s *Store) UpsertAccount(ctx context.Context, row AccountRow) error {
	return s.db.WithContext(ctx).
		Table(s.table("accounts")).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&row).Error
}
