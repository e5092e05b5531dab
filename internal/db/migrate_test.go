package db

import (
	"path/filepath"
	"testing"
)

func TestMigrationsApplyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stripesync.db")
	gdb, err := Open(Config{Backend: BackendSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}

	var count int64
	if err := gdb.Raw(`SELECT COUNT(*) FROM "_migrations"`).Scan(&count).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if want := int64(len(List(BackendSQLite, ""))); count != want {
		t.Fatalf("expected %d ledger rows, got %d", want, count)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	// Reopening must not reapply anything or fail on existing objects.
	gdb2, err := Open(Config{Backend: BackendSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if err := gdb2.Raw(`SELECT COUNT(*) FROM "_migrations"`).Scan(&count).Error; err != nil {
		t.Fatalf("count ledger after reopen: %v", err)
	}
	if want := int64(len(List(BackendSQLite, ""))); count != want {
		t.Fatalf("expected %d ledger rows after reopen, got %d", want, count)
	}

	var distinct int64
	if err := gdb2.Raw(`SELECT COUNT(DISTINCT name) FROM "_migrations"`).Scan(&distinct).Error; err != nil {
		t.Fatalf("count distinct names: %v", err)
	}
	if distinct != count {
		t.Fatalf("ledger names are not unique: %d rows, %d distinct", count, distinct)
	}
}

func TestMigrationsCreateMirrorTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stripesync.db")
	gdb, err := Open(Config{Backend: BackendSQLite, SQLitePath: path})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, table := range []string{
		"accounts", "_sync_status", "_sync_run", "_sync_obj_run", "_managed_webhooks",
		"customers", "invoices", "charges", "subscription_items", "tax_ids",
	} {
		var count int64
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?`
		if err := gdb.Raw(query, table).Scan(&count).Error; err != nil {
			t.Fatalf("check table %s: %v", table, err)
		}
		if count != 1 {
			t.Fatalf("expected table %s to exist", table)
		}
	}

	var views int64
	if err := gdb.Raw(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'view' AND name = 'sync_dashboard'`).Scan(&views).Error; err != nil {
		t.Fatalf("check view: %v", err)
	}
	if views != 1 {
		t.Fatalf("expected sync_dashboard view to exist")
	}
}

func TestRebind(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"a = ?", "a = $1"},
		{"a = ? AND b = ?", "a = $1 AND b = $2"},
		{"a = '?' AND b = ?", "a = '?' AND b = $1"},
		{`a = "col?" AND b = ?`, `a = "col?" AND b = $1`},
	}
	for _, tc := range cases {
		if got := Rebind(BackendPostgres, tc.in); got != tc.want {
			t.Fatalf("Rebind(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if got := Rebind(BackendSQLite, tc.in); got != tc.in {
			t.Fatalf("sqlite Rebind(%q) = %q, want unchanged", tc.in, got)
		}
	}
}

func TestLockKeyStable(t *testing.T) {
	a := LockKey("managed-webhook:acct_1:https://x.example/hooks")
	b := LockKey("managed-webhook:acct_1:https://x.example/hooks")
	if a != b {
		t.Fatalf("lock key not stable: %d != %d", a, b)
	}
	if a == LockKey("managed-webhook:acct_2:https://x.example/hooks") {
		t.Fatalf("distinct keys should not collide on trivial inputs")
	}
}
