package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"stripesync/internal/db"
	"stripesync/internal/models"
)

// DeleteAccount removes every row belonging to one account: mirror rows,
// cursors, runs, managed-webhook bookkeeping and finally the account row.
// With DryRun only the row counts are reported; with UseTransaction the
// deletion is all-or-nothing.
func (s *Store) DeleteAccount(ctx context.Context, accountID string, opts models.DeleteAccountOptions) (models.DeleteAccountResult, error) {
	result := models.DeleteAccountResult{
		AccountID:   accountID,
		DryRun:      opts.DryRun,
		DeletedRows: map[string]int64{},
	}

	if opts.DryRun {
		for _, table := range MirrorTables {
			count, err := s.countAccountRows(ctx, table, "account_id", accountID)
			if err != nil {
				return result, err
			}
			result.DeletedRows[table] = count
		}
		for table, col := range map[string]string{
			"_sync_status":      "account_id",
			"_managed_webhooks": "account_id",
			"_sync_run":         "account_id",
			"accounts":          "id",
		} {
			count, err := s.countAccountRows(ctx, table, col, accountID)
			if err != nil {
				return result, err
			}
			result.DeletedRows[table] = count
		}
		objCount, err := s.countObjectRunRows(ctx, accountID)
		if err != nil {
			return result, err
		}
		result.DeletedRows["_sync_obj_run"] = objCount
		return result, nil
	}

	run := func(tx *gorm.DB) error {
		exec := func(table, query string, args ...any) error {
			res := tx.Exec(db.Rebind(s.backend, query), args...)
			if res.Error != nil {
				return fmt.Errorf("delete from %s: %w", table, res.Error)
			}
			result.DeletedRows[table] += res.RowsAffected
			return nil
		}

		for _, table := range MirrorTables {
			query := fmt.Sprintf("DELETE FROM %s WHERE account_id = ?", s.sqlTable(table))
			if err := exec(table, query, accountID); err != nil {
				return err
			}
		}
		objRunQuery := fmt.Sprintf(
			"DELETE FROM %s WHERE run_id IN (SELECT id FROM %s WHERE account_id = ?)",
			s.sqlTable("_sync_obj_run"), s.sqlTable("_sync_run"))
		if err := exec("_sync_obj_run", objRunQuery, accountID); err != nil {
			return err
		}
		for _, table := range []string{"_sync_run", "_sync_status", "_managed_webhooks"} {
			query := fmt.Sprintf("DELETE FROM %s WHERE account_id = ?", s.sqlTable(table))
			if err := exec(table, query, accountID); err != nil {
				return err
			}
		}
		return exec("accounts", fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.sqlTable("accounts")), accountID)
	}

	if opts.UseTransaction {
		err := s.db.WithContext(ctx).Transaction(run)
		if err != nil {
			// Nothing was removed; report zero counts.
			result.DeletedRows = map[string]int64{}
		}
		return result, err
	}
	return result, run(s.db.WithContext(ctx))
}

func (s *Store) countAccountRows(ctx context.Context, table, col, accountID string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", s.sqlTable(table), col)
	err := s.queryRow(ctx, query, accountID).Scan(&count)
	return count, err
}

func (s *Store) countObjectRunRows(ctx context.Context, accountID string) (int64, error) {
	var count int64
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE run_id IN (SELECT id FROM %s WHERE account_id = ?)",
		s.sqlTable("_sync_obj_run"), s.sqlTable("_sync_run"))
	err := s.queryRow(ctx, query, accountID).Scan(&count)
	return count, err
}
