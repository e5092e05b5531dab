package db

import "fmt"

// dialect resolves the small set of type and naming differences between the
// two supported backends.
type dialect struct {
	backend Backend
	schema  string
}

func (d dialect) tbl(name string) string {
	return TableName(d.schema, name)
}

// ts is the timestamp column type. Values are written as RFC3339 text;
// postgres coerces them into timestamptz.
func (d dialect) ts() string {
	if d.backend == BackendPostgres {
		return "TIMESTAMPTZ"
	}
	return "TEXT"
}

func (d dialect) js() string {
	if d.backend == BackendPostgres {
		return "JSONB"
	}
	return "TEXT"
}

// mirror renders the DDL shared by every mirror table: identity, the raw
// payload, the tombstone flag and sync bookkeeping. extra holds the
// kind-specific typed columns.
func (d dialect) mirror(name string, extra string, indexCols ...string) []string {
	stmts := []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT NOT NULL,
		account_id TEXT NOT NULL REFERENCES %s (id),
		object TEXT,
		created %s,
		%s
		metadata %s,
		raw %s,
		deleted BOOLEAN NOT NULL DEFAULT false,
		last_synced_at %s,
		updated_at %s,
		PRIMARY KEY (account_id, id)
	)`, d.tbl(name), d.tbl("accounts"), d.ts(), extra, d.js(), d.js(), d.ts(), d.ts())}
	for _, col := range indexCols {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (account_id, %s)",
			name, col, d.tbl(name), col))
	}
	return stmts
}

func (d dialect) view(name, body string) string {
	if d.backend == BackendPostgres {
		return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", d.tbl(name), body)
	}
	return fmt.Sprintf("CREATE VIEW IF NOT EXISTS %s AS %s", d.tbl(name), body)
}

// List returns every migration in apply order for the given backend and
// schema. Each migration is individually idempotent so a crash between a
// statement and the ledger write is safe to re-run.
func List(backend Backend, schemaName string) []Migration {
	d := dialect{backend: backend, schema: schemaName}

	accounts := []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		object TEXT,
		business_name TEXT,
		email TEXT,
		country TEXT,
		default_currency TEXT,
		created %s,
		metadata %s,
		raw %s,
		deleted BOOLEAN NOT NULL DEFAULT false,
		last_synced_at %s,
		updated_at %s
	)`, d.tbl("accounts"), d.ts(), d.js(), d.js(), d.ts(), d.ts())}

	syncState := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			resource TEXT NOT NULL,
			account_id TEXT NOT NULL,
			last_synced_object_id TEXT,
			updated_at %s,
			PRIMARY KEY (resource, account_id)
		)`, d.tbl("_sync_status"), d.ts()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			started_at %s NOT NULL,
			completed_at %s,
			closed_at %s,
			max_concurrent INTEGER NOT NULL DEFAULT 4,
			triggered_by TEXT
		)`, d.tbl("_sync_run"), d.ts(), d.ts(), d.ts()),
		// At most one open run per account.
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_run_active
			ON %s (account_id) WHERE closed_at IS NULL`, d.tbl("_sync_run")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT NOT NULL REFERENCES %s (id),
			object TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			processed_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			started_at %s,
			finished_at %s,
			PRIMARY KEY (run_id, object)
		)`, d.tbl("_sync_obj_run"), d.tbl("_sync_run"), d.ts(), d.ts()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			url TEXT NOT NULL,
			enabled_events %s,
			created_at %s,
			UNIQUE (account_id, url)
		)`, d.tbl("_managed_webhooks"), d.js(), d.ts()),
	}

	var coreObjects []string
	coreObjects = append(coreObjects, d.mirror("products", `
		name TEXT,
		active BOOLEAN,
		description TEXT,`)...)
	coreObjects = append(coreObjects, d.mirror("prices", `
		product TEXT,
		active BOOLEAN,
		currency TEXT,
		unit_amount BIGINT,
		type TEXT,
		recurring_interval TEXT,`, "product")...)
	coreObjects = append(coreObjects, d.mirror("plans", `
		product TEXT,
		active BOOLEAN,
		currency TEXT,
		amount BIGINT,
		"interval" TEXT,`, "product")...)
	coreObjects = append(coreObjects, d.mirror("customers", `
		email TEXT,
		name TEXT,
		description TEXT,
		currency TEXT,
		default_payment_method TEXT,
		delinquent BOOLEAN,`)...)
	coreObjects = append(coreObjects, d.mirror("payment_methods", `
		customer TEXT,
		type TEXT,
		card_brand TEXT,
		card_last4 TEXT,`, "customer")...)

	var billingObjects []string
	billingObjects = append(billingObjects, d.mirror("subscriptions", `
		customer TEXT,
		status TEXT,
		current_period_start `+d.ts()+`,
		current_period_end `+d.ts()+`,
		cancel_at_period_end BOOLEAN,`, "customer")...)
	billingObjects = append(billingObjects, d.mirror("subscription_items", `
		subscription TEXT,
		price TEXT,
		quantity BIGINT,`, "subscription")...)
	billingObjects = append(billingObjects, d.mirror("subscription_schedules", `
		customer TEXT,
		subscription TEXT,
		status TEXT,`, "customer")...)
	billingObjects = append(billingObjects, d.mirror("checkout_sessions", `
		customer TEXT,
		subscription TEXT,
		payment_intent TEXT,
		mode TEXT,
		status TEXT,`, "customer")...)
	billingObjects = append(billingObjects, d.mirror("invoices", `
		customer TEXT,
		subscription TEXT,
		status TEXT,
		currency TEXT,
		total BIGINT,
		amount_due BIGINT,
		period_start `+d.ts()+`,
		period_end `+d.ts()+`,`, "customer", "subscription")...)

	var paymentObjects []string
	paymentObjects = append(paymentObjects, d.mirror("charges", `
		customer TEXT,
		invoice TEXT,
		payment_intent TEXT,
		status TEXT,
		currency TEXT,
		amount BIGINT,
		paid BOOLEAN,
		refunded BOOLEAN,`, "customer", "invoice")...)
	paymentObjects = append(paymentObjects, d.mirror("payment_intents", `
		customer TEXT,
		invoice TEXT,
		status TEXT,
		currency TEXT,
		amount BIGINT,`, "customer")...)
	paymentObjects = append(paymentObjects, d.mirror("setup_intents", `
		customer TEXT,
		payment_method TEXT,
		status TEXT,
		usage TEXT,`, "customer")...)
	paymentObjects = append(paymentObjects, d.mirror("refunds", `
		charge TEXT,
		payment_intent TEXT,
		status TEXT,
		currency TEXT,
		amount BIGINT,
		reason TEXT,`, "charge")...)
	paymentObjects = append(paymentObjects, d.mirror("disputes", `
		charge TEXT,
		payment_intent TEXT,
		status TEXT,
		currency TEXT,
		amount BIGINT,
		reason TEXT,`, "charge")...)
	paymentObjects = append(paymentObjects, d.mirror("credit_notes", `
		customer TEXT,
		invoice TEXT,
		status TEXT,
		currency TEXT,
		total BIGINT,`, "customer", "invoice")...)
	paymentObjects = append(paymentObjects, d.mirror("early_fraud_warnings", `
		charge TEXT,
		payment_intent TEXT,
		fraud_type TEXT,
		actionable BOOLEAN,`, "charge")...)
	paymentObjects = append(paymentObjects, d.mirror("tax_ids", `
		customer TEXT,
		type TEXT,
		value TEXT,
		country TEXT,`, "customer")...)

	dashboard := []string{d.view("sync_dashboard", fmt.Sprintf(`SELECT
		r.id,
		r.account_id,
		r.started_at,
		r.completed_at,
		r.closed_at,
		r.triggered_by,
		CASE
			WHEN r.closed_at IS NULL THEN 'running'
			WHEN EXISTS (SELECT 1 FROM %s o WHERE o.run_id = r.id AND o.status = 'error') THEN 'error'
			ELSE 'complete'
		END AS status,
		(SELECT COALESCE(SUM(o.processed_count), 0) FROM %s o WHERE o.run_id = r.id) AS processed_count
	FROM %s r`, d.tbl("_sync_obj_run"), d.tbl("_sync_obj_run"), d.tbl("_sync_run")))}

	return []Migration{
		{Name: "0001_accounts", Statements: accounts},
		{Name: "0002_sync_state", Statements: syncState},
		{Name: "0003_core_objects", Statements: coreObjects},
		{Name: "0004_billing_objects", Statements: billingObjects},
		{Name: "0005_payment_objects", Statements: paymentObjects},
		{Name: "0006_sync_dashboard", Statements: dashboard},
	}
}
