package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"stripesync/internal/db"
	"stripesync/internal/models"
)

// InsertManagedWebhook records a provider endpoint this engine owns. The
// (account_id, url) uniqueness backs the race guarantee of the lifecycle.
func (s *Store) InsertManagedWebhook(ctx context.Context, hook models.ManagedWebhook) error {
	events, err := json.Marshal(hook.EnabledEvents)
	if err != nil {
		return err
	}
	createdAt := hook.CreatedAt
	if createdAt == "" {
		createdAt = Now()
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (id, account_id, url, enabled_events, created_at) VALUES (?, ?, ?, ?, ?)",
		s.sqlTable("_managed_webhooks"))
	if _, err := s.exec(ctx, query, hook.ID, hook.AccountID, hook.URL, string(events), createdAt); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("managed webhook already recorded for url %s: %w", hook.URL, err)
		}
		return err
	}
	return nil
}

func (s *Store) DeleteManagedWebhook(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.sqlTable("_managed_webhooks"))
	_, err := s.exec(ctx, query, id)
	return err
}

// ListManagedWebhooks returns the rows for one account, optionally filtered
// to a single URL.
func (s *Store) ListManagedWebhooks(ctx context.Context, accountID, url string) ([]models.ManagedWebhook, error) {
	query := fmt.Sprintf(
		"SELECT id, account_id, url, enabled_events, created_at FROM %s WHERE account_id = ?",
		s.sqlTable("_managed_webhooks"))
	args := []any{accountID}
	if url != "" {
		query += " AND url = ?"
		args = append(args, url)
	}
	query += " ORDER BY created_at"

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ManagedWebhook
	for rows.Next() {
		var (
			hook      models.ManagedWebhook
			events    sql.NullString
			createdAt sql.NullString
		)
		if err := rows.Scan(&hook.ID, &hook.AccountID, &hook.URL, &events, &createdAt); err != nil {
			return nil, err
		}
		if events.Valid && events.String != "" {
			_ = json.Unmarshal([]byte(events.String), &hook.EnabledEvents)
		}
		hook.CreatedAt = createdAt.String
		out = append(out, hook)
	}
	return out, rows.Err()
}
