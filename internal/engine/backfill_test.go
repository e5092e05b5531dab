package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"stripesync/internal/models"
)

func TestProcessUntilDoneEmptyBackfill(t *testing.T) {
	eng, st, _ := newTestEngine(t, harnessOpts{maxConcurrent: 1})
	ctx := context.Background()

	outcomes, err := eng.ProcessUntilDone(ctx, SyncParams{TriggeredBy: "test"})
	if err != nil {
		t.Fatalf("process until done: %v", err)
	}
	if len(outcomes) != len(SupportedSyncObjects()) {
		t.Fatalf("expected an outcome per kind, got %d", len(outcomes))
	}
	for kind, outcome := range outcomes {
		if outcome.Synced != 0 || outcome.Errors != 0 {
			t.Fatalf("kind %s: expected zero outcome, got %+v", kind, outcome)
		}
	}

	accountID, err := eng.AccountID(ctx)
	if err != nil {
		t.Fatalf("account id: %v", err)
	}
	runID, err := st.LatestRunID(ctx, accountID)
	if err != nil || runID == "" {
		t.Fatalf("latest run: id=%q err=%v", runID, err)
	}
	summary, err := st.GetRunSummary(ctx, runID)
	if err != nil {
		t.Fatalf("run summary: %v", err)
	}
	if summary.ClosedAt == nil {
		t.Fatalf("run must be closed")
	}
	if summary.Status != models.RunStatusComplete {
		t.Fatalf("expected complete run, got %s", summary.Status)
	}
	if got := countRows(t, st, `SELECT COUNT(*) FROM "_sync_run"`); got != 1 {
		t.Fatalf("expected exactly one run, got %d", got)
	}

	// Every kind got a cursor row whose resume point is still null.
	for _, kind := range SupportedSyncObjects() {
		var cursor sql.NullString
		err := st.DB().Raw(`SELECT last_synced_object_id FROM "_sync_status" WHERE resource = ? AND account_id = ?`,
			string(kind), accountID).Scan(&cursor).Error
		if err != nil {
			t.Fatalf("cursor for %s: %v", kind, err)
		}
		if cursor.Valid {
			t.Fatalf("kind %s: expected null cursor after empty backfill, got %q", kind, cursor.String)
		}
	}
}

func TestTwoPageCustomerBackfill(t *testing.T) {
	eng, st, fake := newTestEngine(t, harnessOpts{pageLimit: 2})
	ctx := context.Background()

	fake.setObjects("/v1/customers",
		`{"id":"cus_1","object":"customer","email":"one@example.com","created":1700000001}`,
		`{"id":"cus_2","object":"customer","email":"two@example.com","created":1700000002}`,
		`{"id":"cus_3","object":"customer","email":"three@example.com","created":1700000003}`,
	)

	res, err := eng.ProcessNext(ctx, models.KindCustomer)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if !res.HasMore || res.Processed != 2 {
		t.Fatalf("page 1 = %+v, want hasMore=true processed=2", res)
	}

	res, err = eng.ProcessNext(ctx, models.KindCustomer)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if res.HasMore || res.Processed != 1 {
		t.Fatalf("page 2 = %+v, want hasMore=false processed=1", res)
	}

	accountID, _ := eng.AccountID(ctx)
	if got := countRows(t, st, `SELECT COUNT(*) FROM "customers" WHERE account_id = ?`, accountID); got != 3 {
		t.Fatalf("expected 3 customer rows, got %d", got)
	}
	cursor, err := st.GetCursor(ctx, models.KindCustomer, accountID)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cursor != "cus_3" {
		t.Fatalf("cursor = %q, want cus_3", cursor)
	}

	// Exhausted: further calls are empty and do not move the cursor.
	res, err = eng.ProcessNext(ctx, models.KindCustomer)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if res.HasMore || res.Processed != 0 {
		t.Fatalf("page 3 = %+v, want hasMore=false processed=0", res)
	}
	cursor, _ = st.GetCursor(ctx, models.KindCustomer, accountID)
	if cursor != "cus_3" {
		t.Fatalf("cursor moved to %q after empty page", cursor)
	}
}

func TestProcessNextIsRestartable(t *testing.T) {
	eng, st, fake := newTestEngine(t, harnessOpts{pageLimit: 1})
	ctx := context.Background()

	fake.setObjects("/v1/products",
		`{"id":"prod_1","object":"product","name":"Basic"}`,
		`{"id":"prod_2","object":"product","name":"Pro"}`,
	)

	if _, err := eng.ProcessNext(ctx, models.KindProduct); err != nil {
		t.Fatalf("first page: %v", err)
	}

	// The resume point survives in the database, so the next page starts
	// after prod_1 instead of refetching page one.
	accountID, _ := eng.AccountID(ctx)
	cursor, _ := st.GetCursor(ctx, models.KindProduct, accountID)
	if cursor != "prod_1" {
		t.Fatalf("cursor = %q, want prod_1", cursor)
	}
	res, err := eng.ProcessNext(ctx, models.KindProduct)
	if err != nil {
		t.Fatalf("resumed page: %v", err)
	}
	if res.Processed != 1 || res.HasMore {
		t.Fatalf("resumed page = %+v, want processed=1 hasMore=false", res)
	}
	cursor, _ = st.GetCursor(ctx, models.KindProduct, accountID)
	if cursor != "prod_2" {
		t.Fatalf("cursor = %q, want prod_2", cursor)
	}
}

func TestProcessUntilDoneRecordsKindError(t *testing.T) {
	eng, st, fake := newTestEngine(t, harnessOpts{maxConcurrent: 1})
	ctx := context.Background()

	fake.setObjects("/v1/customers", `{"id":"cus_1","object":"customer"}`)
	fake.failList("/v1/charges", 500)

	outcomes, err := eng.ProcessUntilDone(ctx, SyncParams{TriggeredBy: "test"})
	if err != nil {
		t.Fatalf("process until done: %v", err)
	}
	if outcomes[models.KindCharge].Errors != 1 {
		t.Fatalf("expected charge kind to error, got %+v", outcomes[models.KindCharge])
	}
	if outcomes[models.KindCustomer].Synced != 1 {
		t.Fatalf("other kinds must still sync, got %+v", outcomes[models.KindCustomer])
	}

	accountID, _ := eng.AccountID(ctx)
	runID, _ := st.LatestRunID(ctx, accountID)
	summary, err := st.GetRunSummary(ctx, runID)
	if err != nil {
		t.Fatalf("run summary: %v", err)
	}
	if summary.Status != models.RunStatusError {
		t.Fatalf("run status = %s, want error", summary.Status)
	}
	if summary.ClosedAt == nil {
		t.Fatalf("errored run must still be closed")
	}
	foundError := false
	for _, obj := range summary.Objects {
		if obj.Object == models.KindCharge {
			foundError = obj.Status == models.ObjectRunError && obj.ErrorMessage != nil
		}
	}
	if !foundError {
		t.Fatalf("charge object run should record the error message: %+v", summary.Objects)
	}
}

func TestProcessUntilDoneConcurrentRunRejected(t *testing.T) {
	eng, st, _ := newTestEngine(t, harnessOpts{})
	ctx := context.Background()

	accountID, err := eng.AccountID(ctx)
	if err != nil {
		t.Fatalf("account id: %v", err)
	}
	runID, err := st.OpenRun(ctx, accountID, 1, "other-worker")
	if err != nil {
		t.Fatalf("open run: %v", err)
	}

	if _, err := eng.ProcessUntilDone(ctx, SyncParams{}); !errors.Is(err, ErrConcurrentRun) {
		t.Fatalf("expected ErrConcurrentRun, got %v", err)
	}

	if err := st.CloseRun(ctx, runID); err != nil {
		t.Fatalf("close run: %v", err)
	}
	if _, err := eng.ProcessUntilDone(ctx, SyncParams{}); err != nil {
		t.Fatalf("run after close should succeed: %v", err)
	}
}

func TestSingleKindSyncBackfillsRelatedParents(t *testing.T) {
	eng, st, fake := newTestEngine(t, harnessOpts{maxConcurrent: 1})
	ctx := context.Background()

	fake.setObjects("/v1/customers", `{"id":"cus_1","object":"customer","email":"a@example.com"}`)
	fake.setObjects("/v1/invoices", `{"id":"in_1","object":"invoice","customer":"cus_1","status":"paid","total":1200}`)

	outcomes, err := eng.ProcessUntilDone(ctx, SyncParams{Object: "invoice"})
	if err != nil {
		t.Fatalf("process until done: %v", err)
	}
	if outcomes[models.KindInvoice].Synced != 1 {
		t.Fatalf("invoice outcome: %+v", outcomes[models.KindInvoice])
	}
	if outcomes[models.KindCustomer].Synced != 1 {
		t.Fatalf("never-synced parent kind should have been backfilled: %+v", outcomes)
	}

	accountID, _ := eng.AccountID(ctx)
	var email sql.NullString
	err = st.DB().Raw(`SELECT email FROM "customers" WHERE account_id = ? AND id = ?`, accountID, "cus_1").
		Scan(&email).Error
	if err != nil {
		t.Fatalf("read customer: %v", err)
	}
	if !email.Valid || email.String != "a@example.com" {
		t.Fatalf("customer should be fully projected, email=%v", email)
	}
}

func TestAutoExpandProjectsSubscriptionItems(t *testing.T) {
	eng, st, fake := newTestEngine(t, harnessOpts{autoExpand: true, maxConcurrent: 1})
	ctx := context.Background()

	fake.setObjects("/v1/subscriptions", `{
		"id":"sub_1","object":"subscription","customer":"cus_1","status":"active",
		"items":{"object":"list","data":[
			{"id":"si_1","object":"subscription_item","subscription":"sub_1","price":"price_1","quantity":2}
		]}
	}`)

	if _, err := eng.ProcessNext(ctx, models.KindSubscription); err != nil {
		t.Fatalf("process subscriptions: %v", err)
	}

	accountID, _ := eng.AccountID(ctx)
	if got := countRows(t, st, `SELECT COUNT(*) FROM "subscription_items" WHERE account_id = ?`, accountID); got != 1 {
		t.Fatalf("expected 1 subscription item, got %d", got)
	}
	// The referenced price exists as a stub so joins hold.
	if got := countRows(t, st, `SELECT COUNT(*) FROM "prices" WHERE account_id = ? AND id = 'price_1'`, accountID); got != 1 {
		t.Fatalf("expected stub price row")
	}
	var quantity int64
	if err := st.DB().Raw(`SELECT quantity FROM "subscription_items" WHERE id = 'si_1'`).Scan(&quantity).Error; err != nil {
		t.Fatalf("read item: %v", err)
	}
	if quantity != 2 {
		t.Fatalf("quantity = %d, want 2", quantity)
	}
}

func TestDangerouslyDeleteAccountViaEngine(t *testing.T) {
	eng, st, fake := newTestEngine(t, harnessOpts{maxConcurrent: 1})
	ctx := context.Background()

	fake.setObjects("/v1/customers", `{"id":"cus_1","object":"customer"}`)
	if _, err := eng.ProcessUntilDone(ctx, SyncParams{Object: "customer"}); err != nil {
		t.Fatalf("seed sync: %v", err)
	}
	accountID, _ := eng.AccountID(ctx)

	dry, err := eng.DangerouslyDeleteAccount(ctx, accountID, models.DeleteAccountOptions{DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if dry.DeletedRows["customers"] != 1 {
		t.Fatalf("dry run counts: %+v", dry.DeletedRows)
	}
	if got := countRows(t, st, `SELECT COUNT(*) FROM "customers"`); got != 1 {
		t.Fatalf("dry run deleted rows")
	}

	if _, err := eng.DangerouslyDeleteAccount(ctx, accountID, models.DeleteAccountOptions{UseTransaction: true}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, table := range []string{"customers", "accounts", "_sync_status", "_sync_run"} {
		if got := countRows(t, st, `SELECT COUNT(*) FROM "`+table+`"`); got != 0 {
			t.Fatalf("table %s still has %d rows", table, got)
		}
	}
}
