package engine

import (
	"context"
	"sync"
	"testing"
)

const testWebhookURL = "https://x.example/stripe-webhooks"

func TestFindOrCreateManagedWebhookCreatesOnce(t *testing.T) {
	eng, st, fake := newTestEngine(t, harnessOpts{})
	ctx := context.Background()

	first, err := eng.FindOrCreateManagedWebhook(ctx, testWebhookURL, ManagedWebhookOptions{})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.ID == "" || first.URL != testWebhookURL {
		t.Fatalf("unexpected webhook: %+v", first)
	}
	if first.Secret == "" {
		t.Fatalf("creation must surface the signing secret")
	}

	second, err := eng.FindOrCreateManagedWebhook(ctx, testWebhookURL, ManagedWebhookOptions{})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("idempotency broken: %q != %q", second.ID, first.ID)
	}
	if got := fake.endpointCount(testWebhookURL); got != 1 {
		t.Fatalf("expected one provider endpoint, got %d", got)
	}
	if got := countRows(t, st, `SELECT COUNT(*) FROM "_managed_webhooks"`); got != 1 {
		t.Fatalf("expected one local row, got %d", got)
	}
}

func TestFindOrCreateManagedWebhookConcurrent(t *testing.T) {
	eng, st, fake := newTestEngine(t, harnessOpts{})
	ctx := context.Background()

	const callers = 5
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hook, err := eng.FindOrCreateManagedWebhook(ctx, testWebhookURL, ManagedWebhookOptions{})
			ids[i] = hook.ID
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("caller %d got %q, caller 0 got %q", i, ids[i], ids[0])
		}
	}
	if got := fake.endpointCount(testWebhookURL); got != 1 {
		t.Fatalf("expected one provider endpoint, got %d", got)
	}
	if got := countRows(t, st, `SELECT COUNT(*) FROM "_managed_webhooks"`); got != 1 {
		t.Fatalf("expected one local row, got %d", got)
	}
}

func TestManagedWebhookOrphanCleanup(t *testing.T) {
	eng, st, fake := newTestEngine(t, harnessOpts{})
	ctx := context.Background()

	// Provider-side endpoint owned by a previous generation with no local
	// bookkeeping: deleted before creating the fresh endpoint.
	fake.addEndpoint(fakeEndpoint{
		ID:       "we_orphan",
		URL:      "https://old.example/hooks",
		Metadata: map[string]string{"managed_by": ManagedBy},
	})
	// Legacy-description endpoint is also cleaned up.
	fake.addEndpoint(fakeEndpoint{
		ID:          "we_legacy",
		URL:         "https://legacy.example/hooks",
		Description: "  Stripe   Sync Development ",
		Metadata:    map[string]string{},
	})
	// Foreign endpoint is untouched.
	fake.addEndpoint(fakeEndpoint{
		ID:       "we_foreign",
		URL:      "https://other.example/hooks",
		Metadata: map[string]string{},
	})

	hook, err := eng.FindOrCreateManagedWebhook(ctx, testWebhookURL, ManagedWebhookOptions{})
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}

	if fake.endpointCount("https://old.example/hooks") != 0 {
		t.Fatalf("orphan endpoint should be deleted")
	}
	if fake.endpointCount("https://legacy.example/hooks") != 0 {
		t.Fatalf("legacy endpoint should be deleted")
	}
	if fake.endpointCount("https://other.example/hooks") != 1 {
		t.Fatalf("foreign endpoint must be untouched")
	}
	if fake.endpointCount(testWebhookURL) != 1 {
		t.Fatalf("expected new managed endpoint")
	}
	if got := countRows(t, st, `SELECT COUNT(*) FROM "_managed_webhooks" WHERE id = ?`, hook.ID); got != 1 {
		t.Fatalf("expected local row for %s", hook.ID)
	}
}

func TestManagedWebhookLocalOrphanRemoved(t *testing.T) {
	eng, st, fake := newTestEngine(t, harnessOpts{})
	ctx := context.Background()

	hook, err := eng.FindOrCreateManagedWebhook(ctx, testWebhookURL, ManagedWebhookOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Endpoint vanishes provider-side (operator deleted it in the dashboard).
	fake.mu.Lock()
	delete(fake.endpoints, hook.ID)
	fake.mu.Unlock()

	replacement, err := eng.FindOrCreateManagedWebhook(ctx, testWebhookURL, ManagedWebhookOptions{})
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if replacement.ID == hook.ID {
		t.Fatalf("expected a fresh endpoint id")
	}
	if got := countRows(t, st, `SELECT COUNT(*) FROM "_managed_webhooks"`); got != 1 {
		t.Fatalf("expected the orphaned row to be replaced, got %d rows", got)
	}
}

func TestDeleteManagedWebhookTolerant(t *testing.T) {
	eng, st, fake := newTestEngine(t, harnessOpts{})
	ctx := context.Background()

	hook, err := eng.FindOrCreateManagedWebhook(ctx, testWebhookURL, ManagedWebhookOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.DeleteManagedWebhook(ctx, hook.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if fake.endpointCount("") != 0 {
		t.Fatalf("provider endpoint should be gone")
	}
	if got := countRows(t, st, `SELECT COUNT(*) FROM "_managed_webhooks"`); got != 0 {
		t.Fatalf("local row should be gone")
	}

	// Deleting again is a no-op on both sides.
	if err := eng.DeleteManagedWebhook(ctx, hook.ID); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestListManagedWebhooksScopedToAccount(t *testing.T) {
	st := newTestStore(t)
	engA, _, _ := newTestEngine(t, harnessOpts{accountID: "acct_A", sharedStore: st})
	engB, _, _ := newTestEngine(t, harnessOpts{accountID: "acct_B", sharedStore: st})
	ctx := context.Background()

	hookA, err := engA.FindOrCreateManagedWebhook(ctx, testWebhookURL, ManagedWebhookOptions{})
	if err != nil {
		t.Fatalf("engine A create: %v", err)
	}
	hookB, err := engB.FindOrCreateManagedWebhook(ctx, testWebhookURL, ManagedWebhookOptions{})
	if err != nil {
		t.Fatalf("engine B create: %v", err)
	}
	if hookA.ID == hookB.ID {
		t.Fatalf("accounts must own distinct endpoints")
	}

	hooks, err := engA.ListManagedWebhooks(ctx)
	if err != nil {
		t.Fatalf("list A: %v", err)
	}
	if len(hooks) != 1 || hooks[0].ID != hookA.ID {
		t.Fatalf("engine A must only see its own hooks: %+v", hooks)
	}
	hooks, err = engB.ListManagedWebhooks(ctx)
	if err != nil {
		t.Fatalf("list B: %v", err)
	}
	if len(hooks) != 1 || hooks[0].ID != hookB.ID {
		t.Fatalf("engine B must only see its own hooks: %+v", hooks)
	}
}
