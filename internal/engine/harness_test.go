package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"stripesync/internal/db"
	"stripesync/internal/logging"
	"stripesync/internal/store"
	"stripesync/internal/stripeclient"
)

const testSigningSecret = "whsec_engine_test"

// fakeStripe is an in-memory provider: paginated lists, single retrieves and
// a webhook-endpoint collection, all keyed by URL path.
type fakeStripe struct {
	mu        sync.Mutex
	accountID string
	objects   map[string][]fakeObject
	retrieves map[string]string
	failPaths map[string]int
	endpoints map[string]*fakeEndpoint
	seq       int
	server    *httptest.Server
}

type fakeObject struct {
	ID  string
	Raw string
}

type fakeEndpoint struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	Secret        string            `json:"secret,omitempty"`
	Description   string            `json:"description"`
	EnabledEvents []string          `json:"enabled_events"`
	Metadata      map[string]string `json:"metadata"`
	Created       int64             `json:"created"`
}

func newFakeStripe(t *testing.T, accountID string) *fakeStripe {
	t.Helper()
	f := &fakeStripe{
		accountID: accountID,
		objects:   map[string][]fakeObject{},
		retrieves: map[string]string{},
		failPaths: map[string]int{},
		endpoints: map[string]*fakeEndpoint{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeStripe) setObjects(listPath string, raws ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objs := make([]fakeObject, 0, len(raws))
	for _, raw := range raws {
		var env struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			panic(err)
		}
		objs = append(objs, fakeObject{ID: env.ID, Raw: raw})
	}
	f.objects[listPath] = objs
}

func (f *fakeStripe) failList(listPath string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPaths[listPath] = status
}

func (f *fakeStripe) endpointCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, ep := range f.endpoints {
		if url == "" || ep.URL == url {
			count++
		}
	}
	return count
}

func (f *fakeStripe) addEndpoint(ep fakeEndpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints[ep.ID] = &ep
}

func (f *fakeStripe) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	writeJSON := func(status int, body string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}

	if status, ok := f.failPaths[path]; ok {
		writeJSON(status, `{"error":{"type":"api_error","message":"injected failure"}}`)
		return
	}

	switch {
	case path == "/v1/account":
		writeJSON(http.StatusOK, fmt.Sprintf(
			`{"id":%q,"object":"account","email":"owner@example.com","country":"US","default_currency":"usd","created":1690000000}`,
			f.accountID))
		return

	case path == "/v1/webhook_endpoints" && r.Method == http.MethodPost:
		_ = r.ParseForm()
		f.seq++
		ep := &fakeEndpoint{
			ID:            fmt.Sprintf("we_%s_%d", f.accountID, f.seq),
			URL:           r.PostForm.Get("url"),
			Status:        "enabled",
			Secret:        fmt.Sprintf("whsec_fake_%d", f.seq),
			Description:   r.PostForm.Get("description"),
			EnabledEvents: []string{r.PostForm.Get("enabled_events[0]")},
			Metadata:      map[string]string{},
			Created:       time.Now().Unix(),
		}
		if managedBy := r.PostForm.Get("metadata[managed_by]"); managedBy != "" {
			ep.Metadata["managed_by"] = managedBy
		}
		f.endpoints[ep.ID] = ep
		data, _ := json.Marshal(ep)
		writeJSON(http.StatusOK, string(data))
		return

	case path == "/v1/webhook_endpoints" && r.Method == http.MethodGet:
		list := make([]*fakeEndpoint, 0, len(f.endpoints))
		for _, ep := range f.endpoints {
			list = append(list, ep)
		}
		data, _ := json.Marshal(map[string]any{"object": "list", "data": list, "has_more": false})
		writeJSON(http.StatusOK, string(data))
		return

	case strings.HasPrefix(path, "/v1/webhook_endpoints/"):
		id := strings.TrimPrefix(path, "/v1/webhook_endpoints/")
		ep, ok := f.endpoints[id]
		if !ok {
			writeJSON(http.StatusNotFound, `{"error":{"type":"invalid_request_error","message":"No such webhook endpoint"}}`)
			return
		}
		if r.Method == http.MethodDelete {
			delete(f.endpoints, id)
			writeJSON(http.StatusOK, fmt.Sprintf(`{"id":%q,"deleted":true}`, id))
			return
		}
		data, _ := json.Marshal(ep)
		writeJSON(http.StatusOK, string(data))
		return
	}

	if raw, ok := f.retrieves[path]; ok {
		writeJSON(http.StatusOK, raw)
		return
	}

	// Everything else is a paginated list endpoint.
	objs := f.objects[path]
	start := 0
	if after := r.URL.Query().Get("starting_after"); after != "" {
		for i, obj := range objs {
			if obj.ID == after {
				start = i + 1
				break
			}
		}
		if start == 0 {
			// Unknown cursor: nothing newer.
			start = len(objs)
		}
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		_, _ = fmt.Sscanf(raw, "%d", &limit)
	}
	end := start + limit
	if end > len(objs) {
		end = len(objs)
	}
	parts := make([]string, 0, end-start)
	for _, obj := range objs[start:end] {
		parts = append(parts, obj.Raw)
	}
	writeJSON(http.StatusOK, fmt.Sprintf(
		`{"object":"list","data":[%s],"has_more":%t}`,
		strings.Join(parts, ","), end < len(objs)))
}

type harnessOpts struct {
	accountID     string
	pageLimit     int
	maxConcurrent int
	autoExpand    bool
	enabled       []string
	sharedStore   *store.Store
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	gdb, err := db.Open(db.Config{
		Backend:    db.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "stripesync.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	st, err := store.New(gdb, store.Options{Backend: db.BackendSQLite})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestEngine(t *testing.T, opts harnessOpts) (*Engine, *store.Store, *fakeStripe) {
	t.Helper()
	if opts.accountID == "" {
		opts.accountID = "acct_test1"
	}
	if opts.pageLimit == 0 {
		opts.pageLimit = 100
	}
	if opts.maxConcurrent == 0 {
		opts.maxConcurrent = 2
	}

	st := opts.sharedStore
	if st == nil {
		st = newTestStore(t)
	}
	fake := newFakeStripe(t, opts.accountID)

	client := stripeclient.New(stripeclient.Options{
		SecretKey: "sk_test_" + opts.accountID,
		BaseURL:   fake.server.URL,
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	})
	eng, err := New(Config{
		Store:                   st,
		Client:                  client,
		Logger:                  logging.New(logging.FormatText),
		WebhookSecret:           testSigningSecret,
		PageLimit:               opts.pageLimit,
		MaxConcurrent:           opts.maxConcurrent,
		AutoExpandLists:         opts.autoExpand,
		BackfillRelatedEntities: true,
		EnabledObjects:          opts.enabled,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng, st, fake
}

// signedEvent renders a webhook delivery body plus a valid signature header.
func signedEvent(t *testing.T, eventID, eventType string, object string) ([]byte, string) {
	t.Helper()
	body := fmt.Sprintf(
		`{"id":%q,"object":"event","type":%q,"created":%d,"data":{"object":%s}}`,
		eventID, eventType, time.Now().Unix(), object)
	header := stripeclient.SignatureHeader([]byte(body), time.Now().Unix(), testSigningSecret)
	return []byte(body), header
}

func countRows(t *testing.T, st *store.Store, query string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := st.DB().Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return count
}
