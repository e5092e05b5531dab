package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"stripesync/internal/db"
	"stripesync/internal/models"
)

// ErrConcurrentRun means another sync run is already open for the account.
// Callers report it; they do not retry.
var ErrConcurrentRun = errors.New("another sync run is already open for this account")

type runRow struct {
	ID            string  `gorm:"column:id;primaryKey"`
	AccountID     string  `gorm:"column:account_id"`
	StartedAt     string  `gorm:"column:started_at"`
	CompletedAt   *string `gorm:"column:completed_at"`
	ClosedAt      *string `gorm:"column:closed_at"`
	MaxConcurrent int     `gorm:"column:max_concurrent"`
	TriggeredBy   string  `gorm:"column:triggered_by"`
}

// OpenRun inserts a new open run. The partial unique index on
// (account_id) WHERE closed_at IS NULL turns a concurrent open into a
// unique violation, surfaced as ErrConcurrentRun.
func (s *Store) OpenRun(ctx context.Context, accountID string, maxConcurrent int, triggeredBy string) (string, error) {
	id := ulid.Make().String()
	row := runRow{
		ID:            id,
		AccountID:     accountID,
		StartedAt:     Now(),
		MaxConcurrent: maxConcurrent,
		TriggeredBy:   triggeredBy,
	}
	if err := s.db.WithContext(ctx).Table(s.table("_sync_run")).Create(&row).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return "", ErrConcurrentRun
		}
		return "", err
	}
	return id, nil
}

// CompleteRun records the moment every object run reached a terminal state.
func (s *Store) CompleteRun(ctx context.Context, runID string) error {
	query := fmt.Sprintf("UPDATE %s SET completed_at = ? WHERE id = ?", s.sqlTable("_sync_run"))
	_, err := s.exec(ctx, query, Now(), runID)
	return err
}

// CloseRun releases the per-account exclusivity.
func (s *Store) CloseRun(ctx context.Context, runID string) error {
	query := fmt.Sprintf("UPDATE %s SET closed_at = ? WHERE id = ? AND closed_at IS NULL", s.sqlTable("_sync_run"))
	_, err := s.exec(ctx, query, Now(), runID)
	return err
}

// CreateObjectRuns seeds a pending row per kind for a run.
func (s *Store) CreateObjectRuns(ctx context.Context, runID string, kinds []models.ObjectKind) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (run_id, object, status, processed_count) VALUES (?, ?, 'pending', 0)",
		s.sqlTable("_sync_obj_run"))
	for _, kind := range kinds {
		if _, err := s.exec(ctx, query, runID, string(kind)); err != nil {
			return err
		}
	}
	return nil
}

// ClaimObjectRun transitions pending→running for one kind. Exactly one
// caller wins; everyone else sees the row already running and skips.
func (s *Store) ClaimObjectRun(ctx context.Context, runID string, kind models.ObjectKind) (bool, error) {
	query := fmt.Sprintf(
		"UPDATE %s SET status = 'running', started_at = ? WHERE run_id = ? AND object = ? AND status = 'pending'",
		s.sqlTable("_sync_obj_run"))
	affected, err := s.exec(ctx, query, Now(), runID, string(kind))
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// RecordObjectRun upserts the terminal (or progress) state of one kind
// within a run.
func (s *Store) RecordObjectRun(ctx context.Context, runID string, kind models.ObjectKind, status models.ObjectRunStatus, processed int, errorMessage string) error {
	var errMsg any
	if errorMessage != "" {
		errMsg = errorMessage
	}
	var finishedAt any
	if status == models.ObjectRunDone || status == models.ObjectRunError {
		finishedAt = Now()
	}
	query := fmt.Sprintf(
		"UPDATE %s SET status = ?, processed_count = ?, error_message = ?, finished_at = ? WHERE run_id = ? AND object = ?",
		s.sqlTable("_sync_obj_run"))
	affected, err := s.exec(ctx, query, string(status), processed, errMsg, finishedAt, runID, string(kind))
	if err != nil {
		return err
	}
	if affected == 0 {
		insert := fmt.Sprintf(
			"INSERT INTO %s (run_id, object, status, processed_count, error_message, finished_at) VALUES (?, ?, ?, ?, ?, ?)",
			s.sqlTable("_sync_obj_run"))
		_, err = s.exec(ctx, insert, runID, string(kind), string(status), processed, errMsg, finishedAt)
	}
	return err
}

// GetRunSummary loads a run with its derived status and per-object rows.
func (s *Store) GetRunSummary(ctx context.Context, runID string) (models.RunSummary, error) {
	var summary models.RunSummary
	query := fmt.Sprintf(
		"SELECT id, account_id, started_at, completed_at, closed_at, max_concurrent, triggered_by FROM %s WHERE id = ?",
		s.sqlTable("_sync_run"))
	var completedAt, closedAt sql.NullString
	err := s.queryRow(ctx, query, runID).Scan(
		&summary.ID, &summary.AccountID, &summary.StartedAt,
		&completedAt, &closedAt, &summary.MaxConcurrent, &summary.TriggeredBy)
	if err != nil {
		return models.RunSummary{}, err
	}
	if completedAt.Valid {
		summary.CompletedAt = &completedAt.String
	}
	if closedAt.Valid {
		summary.ClosedAt = &closedAt.String
	}

	objects, err := s.listObjectRuns(ctx, runID)
	if err != nil {
		return models.RunSummary{}, err
	}
	summary.Objects = objects

	summary.Status = models.RunStatusComplete
	if summary.ClosedAt == nil {
		summary.Status = models.RunStatusRunning
	} else {
		for _, obj := range objects {
			if obj.Status == models.ObjectRunError {
				summary.Status = models.RunStatusError
				break
			}
		}
	}
	return summary, nil
}

// LatestRunID returns the most recent run for an account, or "" when the
// account has never synced.
func (s *Store) LatestRunID(ctx context.Context, accountID string) (string, error) {
	query := fmt.Sprintf(
		"SELECT id FROM %s WHERE account_id = ? ORDER BY started_at DESC LIMIT 1",
		s.sqlTable("_sync_run"))
	var id string
	err := s.queryRow(ctx, query, accountID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *Store) listObjectRuns(ctx context.Context, runID string) ([]models.ObjectRun, error) {
	query := fmt.Sprintf(
		"SELECT object, status, processed_count, error_message FROM %s WHERE run_id = ? ORDER BY object",
		s.sqlTable("_sync_obj_run"))
	rows, err := s.query(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ObjectRun
	for rows.Next() {
		var (
			obj    models.ObjectRun
			errMsg sql.NullString
		)
		if err := rows.Scan(&obj.Object, &obj.Status, &obj.ProcessedCount, &errMsg); err != nil {
			return nil, err
		}
		obj.RunID = runID
		if errMsg.Valid {
			obj.ErrorMessage = &errMsg.String
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}
