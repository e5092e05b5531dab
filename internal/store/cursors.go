package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm/clause"

	"stripesync/internal/models"
)

type cursorRow struct {
	Resource           string  `gorm:"column:resource;primaryKey"`
	AccountID          string  `gorm:"column:account_id;primaryKey"`
	LastSyncedObjectID *string `gorm:"column:last_synced_object_id"`
	UpdatedAt          string  `gorm:"column:updated_at"`
}

// EnsureCursor creates the (resource, account) cursor row with a null resume
// point if it does not exist yet.
func (s *Store) EnsureCursor(ctx context.Context, kind models.ObjectKind, accountID string) error {
	return s.db.WithContext(ctx).
		Table(s.table("_sync_status")).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource"}, {Name: "account_id"}},
			DoNothing: true,
		}).
		Create(&cursorRow{Resource: string(kind), AccountID: accountID, UpdatedAt: Now()}).Error
}

// GetCursor returns the stored resume point, or "" when the kind has never
// produced a page for this account.
func (s *Store) GetCursor(ctx context.Context, kind models.ObjectKind, accountID string) (string, error) {
	var cursor sql.NullString
	query := fmt.Sprintf(
		"SELECT last_synced_object_id FROM %s WHERE resource = ? AND account_id = ?",
		s.sqlTable("_sync_status"))
	err := s.queryRow(ctx, query, string(kind), accountID).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cursor.String, nil
}

// AdvanceCursor moves the resume point forward. Pages arrive in cursor order
// within a run, so a plain overwrite preserves monotonicity; the row is
// created if a caller advances before EnsureCursor ran.
func (s *Store) AdvanceCursor(ctx context.Context, kind models.ObjectKind, accountID, lastObjectID string) error {
	last := lastObjectID
	return s.db.WithContext(ctx).
		Table(s.table("_sync_status")).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource"}, {Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_synced_object_id", "updated_at"}),
		}).
		Create(&cursorRow{
			Resource:           string(kind),
			AccountID:          accountID,
			LastSyncedObjectID: &last,
			UpdatedAt:          Now(),
		}).Error
}

// ResetCursor clears the resume point so the next run starts from the top.
func (s *Store) ResetCursor(ctx context.Context, kind models.ObjectKind, accountID string) error {
	query := fmt.Sprintf(
		"UPDATE %s SET last_synced_object_id = NULL, updated_at = ? WHERE resource = ? AND account_id = ?",
		s.sqlTable("_sync_status"))
	_, err := s.exec(ctx, query, Now(), string(kind), accountID)
	return err
}

// HasCursor reports whether a cursor row exists at all for (kind, account);
// used to decide which related kinds have never been synced.
func (s *Store) HasCursor(ctx context.Context, kind models.ObjectKind, accountID string) (bool, error) {
	var count int64
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE resource = ? AND account_id = ?",
		s.sqlTable("_sync_status"))
	if err := s.queryRow(ctx, query, string(kind), accountID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
