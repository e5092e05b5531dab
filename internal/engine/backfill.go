package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stripesync/internal/models"
	"stripesync/internal/stripeclient"
	"stripesync/internal/ws"
)

// SyncParams drives ProcessUntilDone. Object "" or "all" backfills every
// enabled kind; a single kind name backfills that kind (plus never-synced
// related kinds when backfillRelatedEntities is on). CreatedGTE restricts
// the listing to objects created at or after the given unix time.
type SyncParams struct {
	Object      string
	CreatedGTE  int64
	TriggeredBy string
}

// ProcessNext fetches and applies the next page for one kind. It takes no
// lock of its own; ProcessUntilDone serializes each kind through the
// object-run claim. The cursor advances only after every object on the page projected, so an interrupted
// page is refetched and reapplied; upserts make that idempotent.
func (e *Engine) ProcessNext(ctx context.Context, kind models.ObjectKind) (models.PageResult, error) {
	return e.processNext(ctx, kind, 0)
}

func (e *Engine) processNext(ctx context.Context, kind models.ObjectKind, createdGTE int64) (models.PageResult, error) {
	spec, ok := findKind(kind)
	if !ok {
		return models.PageResult{}, fmt.Errorf("%w: %q", ErrUnknownObject, kind)
	}
	if !e.kindEnabled(kind) {
		return models.PageResult{}, fmt.Errorf("%w: %q is not enabled", ErrUnknownObject, kind)
	}

	accountID, err := e.AccountID(ctx)
	if err != nil {
		return models.PageResult{}, err
	}
	if err := e.store.EnsureCursor(ctx, kind, accountID); err != nil {
		return models.PageResult{}, err
	}
	cursor, err := e.store.GetCursor(ctx, kind, accountID)
	if err != nil {
		return models.PageResult{}, err
	}

	page, err := e.client.List(ctx, spec.ListPath, stripeclient.ListParams{
		StartingAfter: cursor,
		Limit:         e.pageLimit,
		CreatedGTE:    createdGTE,
		Extra:         spec.ListQuery,
	})
	if err != nil {
		return models.PageResult{}, fmt.Errorf("list %s: %w", kind, err)
	}

	processed := 0
	for _, obj := range page.Data {
		if obj.Deleted {
			if err := e.store.MarkDeleted(ctx, spec.Table, accountID, obj.ID); err != nil {
				return models.PageResult{Processed: processed}, err
			}
		} else if err := spec.Project(e, ctx, e.store, accountID, obj.Raw); err != nil {
			return models.PageResult{Processed: processed}, fmt.Errorf("project %s %s: %w", kind, obj.ID, err)
		}
		processed++
	}

	if processed > 0 {
		lastID := page.Data[len(page.Data)-1].ID
		if err := e.store.AdvanceCursor(ctx, kind, accountID, lastID); err != nil {
			return models.PageResult{Processed: processed}, err
		}
	}

	if e.metrics != nil {
		e.metrics.ObservePage(string(kind), processed)
	}
	e.publish(ws.Event{Type: "sync.page", Payload: map[string]any{
		"object":    string(kind),
		"processed": processed,
		"hasMore":   page.HasMore,
	}})
	return models.PageResult{HasMore: page.HasMore, Processed: processed}, nil
}

// ProcessUntilDone opens a sync run and drives every selected kind to a
// terminal state, advancing up to maxConcurrent kinds in parallel. A second
// call while a run is open fails with ErrConcurrentRun.
func (e *Engine) ProcessUntilDone(ctx context.Context, params SyncParams) (map[models.ObjectKind]models.KindOutcome, error) {
	accountID, err := e.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	kinds, err := e.selectKinds(ctx, accountID, params.Object)
	if err != nil {
		return nil, err
	}

	triggeredBy := params.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}
	runID, err := e.store.OpenRun(ctx, accountID, e.maxConcurrent, triggeredBy)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.store.CloseRun(context.WithoutCancel(ctx), runID); err != nil {
			e.log.Errorf("close sync run %s: %v", runID, err)
		}
	}()

	if err := e.store.CreateObjectRuns(ctx, runID, kinds); err != nil {
		return nil, err
	}
	e.log.Infof("sync run %s started for account %s (%d kinds)", runID, accountID, len(kinds))
	e.publish(ws.Event{Type: "sync.run.started", Payload: map[string]any{
		"runId":     runID,
		"accountId": accountID,
	}})

	var (
		mu       sync.Mutex
		outcomes = make(map[models.ObjectKind]models.KindOutcome, len(kinds))
		wg       sync.WaitGroup
		sem      = make(chan struct{}, e.maxConcurrent)
	)
	for _, kind := range kinds {
		// Taking the slot before starting the worker makes kinds start in
		// dependency order.
		sem <- struct{}{}
		wg.Add(1)
		go func(kind models.ObjectKind) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := e.driveKind(ctx, runID, kind, params.CreatedGTE)
			mu.Lock()
			outcomes[kind] = outcome
			mu.Unlock()
		}(kind)
	}
	wg.Wait()

	if err := e.store.CompleteRun(context.WithoutCancel(ctx), runID); err != nil {
		return outcomes, err
	}
	errored := 0
	for _, outcome := range outcomes {
		errored += outcome.Errors
	}
	e.log.Infof("sync run %s finished (%d kinds, %d errors)", runID, len(kinds), errored)
	e.publish(ws.Event{Type: "sync.run.finished", Payload: map[string]any{
		"runId":  runID,
		"errors": errored,
	}})
	if e.metrics != nil {
		e.metrics.ObserveRun(errored == 0)
	}
	return outcomes, nil
}

// driveKind pulls pages for one kind until exhaustion or failure, keeping
// the object-run row current along the way.
func (e *Engine) driveKind(ctx context.Context, runID string, kind models.ObjectKind, createdGTE int64) models.KindOutcome {
	record := func(status models.ObjectRunStatus, processed int, message string) {
		if err := e.store.RecordObjectRun(context.WithoutCancel(ctx), runID, kind, status, processed, message); err != nil {
			e.log.Errorf("record object run %s/%s: %v", runID, kind, err)
		}
	}

	claimed, err := e.store.ClaimObjectRun(ctx, runID, kind)
	if err != nil {
		record(models.ObjectRunError, 0, err.Error())
		return models.KindOutcome{Errors: 1}
	}
	if !claimed {
		// Another worker owns this kind; nothing to do here.
		return models.KindOutcome{}
	}

	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			record(models.ObjectRunError, processed, "canceled: "+err.Error())
			return models.KindOutcome{Synced: processed, Errors: 1}
		}
		res, err := e.processNext(ctx, kind, createdGTE)
		processed += res.Processed
		if err != nil {
			e.log.Errorf("backfill %s failed after %d objects: %v", kind, processed, err)
			record(models.ObjectRunError, processed, err.Error())
			if e.metrics != nil {
				e.metrics.ObserveSyncError(string(kind))
			}
			return models.KindOutcome{Synced: processed, Errors: 1}
		}
		if !res.HasMore {
			record(models.ObjectRunDone, processed, "")
			return models.KindOutcome{Synced: processed}
		}
		record(models.ObjectRunRunning, processed, "")
	}
}

// selectKinds resolves the work list for a run in registry (dependency)
// order. For a single-kind sync with backfillRelatedEntities on, parent
// kinds that have never been synced are prepended.
func (e *Engine) selectKinds(ctx context.Context, accountID, object string) ([]models.ObjectKind, error) {
	if object == "" || object == "all" {
		kinds := e.SupportedSyncObjects()
		if len(kinds) == 0 {
			return nil, fmt.Errorf("%w: no objects enabled", ErrUnknownObject)
		}
		return kinds, nil
	}

	kind := models.ObjectKind(object)
	spec, ok := findKind(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownObject, object)
	}
	if !e.kindEnabled(kind) {
		return nil, fmt.Errorf("%w: %q is not enabled", ErrUnknownObject, object)
	}

	selected := map[models.ObjectKind]bool{kind: true}
	if e.backfillRelatedEntities {
		for _, related := range spec.Related {
			if !e.kindEnabled(related) {
				continue
			}
			synced, err := e.store.HasCursor(ctx, related, accountID)
			if err != nil {
				return nil, err
			}
			if !synced {
				selected[related] = true
			}
		}
	}

	order := make(map[models.ObjectKind]int, len(kindRegistry))
	for i, entry := range kindRegistry {
		order[entry.Kind] = i
	}
	kinds := make([]models.ObjectKind, 0, len(selected))
	for k := range selected {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return order[kinds[i]] < order[kinds[j]] })
	return kinds, nil
}
