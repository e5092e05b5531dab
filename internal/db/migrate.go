package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrMigration marks schema migration failures. The ledger row for a failed
// migration is never written, so a re-run picks up where the failure left off.
var ErrMigration = errors.New("migration failed")

// Migration is one named group of SQL statements applied together. Names
// carry a numeric prefix that imposes the total order.
type Migration struct {
	Name       string
	Statements []string
}

// Migrate applies every migration that is not yet recorded in the ledger.
// The ledger check, the statements and the ledger insert share one
// transaction, so a crash can never record a migration that did not run.
func Migrate(gdb *gorm.DB, backend Backend, schemaName string) error {
	if backend == BackendSQLite {
		schemaName = ""
	}
	if backend == BackendPostgres && schemaName != "" {
		stmt := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(schemaName))
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("%w: create schema %s: %v", ErrMigration, schemaName, err)
		}
	}

	ledger := TableName(schemaName, "_migrations")
	createLedger := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`, ledger)
	if err := gdb.Exec(createLedger).Error; err != nil {
		return fmt.Errorf("%w: create ledger: %v", ErrMigration, err)
	}

	for _, migration := range List(backend, schemaName) {
		err := gdb.Transaction(func(tx *gorm.DB) error {
			var applied int64
			check := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE name = ?", ledger)
			if err := tx.Raw(Rebind(backend, check), migration.Name).Scan(&applied).Error; err != nil {
				return err
			}
			if applied > 0 {
				return nil
			}
			for _, stmt := range migration.Statements {
				if err := tx.Exec(stmt).Error; err != nil {
					return fmt.Errorf("statement failed: %v", err)
				}
			}
			insert := fmt.Sprintf("INSERT INTO %s (name, applied_at) VALUES (?, ?)", ledger)
			now := time.Now().UTC().Format(time.RFC3339Nano)
			return tx.Exec(Rebind(backend, insert), migration.Name, now).Error
		})
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMigration, migration.Name, err)
		}
	}
	return nil
}
