package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starford/berkano/internal/content"
	"github.com/starford/berkano/internal/dispatch"
	"github.com/starford/berkano/internal/graph"
	"github.com/starford/berkano/internal/reconcile"
	"github.com/starford/berkano/internal/store"
	"github.com/starford/berkano/internal/testutil"
	"github.com/starford/berkano/internal/txn"
)

func newServer(t *testing.T, authEnabled bool, token string) (*httptest.Server, *store.Store) {
	t.Helper()
	_, files := testutil.TestGarden(t)
	db := testutil.TestStore(t)
	logger := testutil.Logger()

	coord := txn.New(db, files, graph.NewCache(db), logger)
	relay := dispatch.NewRelay()
	disp := dispatch.New(db, relay, dispatch.Options{Mode: dispatch.ModeSync}, logger)
	svc := content.NewService(coord, disp, db, files, logger)
	backups := reconcile.NewBackups(db, t.TempDir(), "test", 3, logger)
	engine := reconcile.New(coord, db, files, backups, reconcile.HealthConfig{}, logger)

	srv := httptest.NewServer(NewRouter(svc, coord, engine, disp, db, authEnabled, token))
	t.Cleanup(srv.Close)
	return srv, db
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestHealthzAlwaysOpen(t *testing.T) {
	srv, _ := newServer(t, true, "secret")

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newServer(t, true, "secret")

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/records", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/records", nil, map[string]string{"Authorization": "Bearer wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/records", nil, map[string]string{"Authorization": "Bearer secret"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token = %d", resp.StatusCode)
	}
}

func TestRecordCRUD(t *testing.T) {
	srv, _ := newServer(t, false, "")

	// Create.
	resp, data := doJSON(t, http.MethodPost, srv.URL+"/records", CreateRecordRequest{
		Type: "note", Title: "Via API", Body: "Hello.\n", Tags: []string{"garden/soil"},
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", resp.StatusCode, data)
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatal(err)
	}
	if created.ID != "note-0001" || created.Status != "seedling" {
		t.Errorf("created = %+v", created)
	}

	// Get.
	resp, data = doJSON(t, http.MethodGet, srv.URL+"/records/"+created.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get = %d", resp.StatusCode)
	}
	var detail struct {
		Record  struct{ Title string } `json:"record"`
		Content string                 `json:"content"`
		Tags    []string               `json:"tags"`
	}
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatal(err)
	}
	if detail.Record.Title != "Via API" || detail.Content == "" || len(detail.Tags) != 1 {
		t.Errorf("detail = %+v", detail)
	}

	// Update.
	resp, data = doJSON(t, http.MethodPut, srv.URL+"/records/"+created.ID, map[string]any{
		"status": "budding",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update = %d: %s", resp.StatusCode, data)
	}
	var updated struct {
		Title  string `json:"title"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatal(err)
	}
	if updated.Status != "budding" || updated.Title != "Via API" {
		t.Errorf("updated = %+v", updated)
	}

	// Delete, then the record is gone.
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/records/"+created.ID, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/records/"+created.ID, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d", resp.StatusCode)
	}
}

func TestCreateValidation(t *testing.T) {
	srv, _ := newServer(t, false, "")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/records", CreateRecordRequest{Type: "widget", Title: "X"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown type = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/records", CreateRecordRequest{Type: "note"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing title = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/records", CreateRecordRequest{
		Type: "note", Title: "X", Status: "done",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("illegal status = %d", resp.StatusCode)
	}
}

func TestUpdateUnknownRecord(t *testing.T) {
	srv, _ := newServer(t, false, "")
	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/records/note-9999", map[string]any{"title": "X"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("update unknown = %d", resp.StatusCode)
	}
}

func TestListRecordsFilters(t *testing.T) {
	srv, _ := newServer(t, false, "")

	for _, r := range []CreateRecordRequest{
		{Type: "note", Title: "N1", Tags: []string{"garden/soil"}},
		{Type: "note", Title: "N2"},
		{Type: "task", Title: "T1"},
	} {
		if resp, data := doJSON(t, http.MethodPost, srv.URL+"/records", r, nil); resp.StatusCode != http.StatusCreated {
			t.Fatalf("create = %d: %s", resp.StatusCode, data)
		}
	}

	list := func(query string) RecordListResponse {
		resp, data := doJSON(t, http.MethodGet, srv.URL+"/records"+query, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list %q = %d", query, resp.StatusCode)
		}
		var out RecordListResponse
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatal(err)
		}
		return out
	}

	if got := list(""); got.Total != 3 {
		t.Errorf("unfiltered total = %d", got.Total)
	}
	if got := list("?type=task"); got.Total != 1 || got.Records[0].Title != "T1" {
		t.Errorf("type filter = %+v", got)
	}
	if got := list("?tag=garden/soil"); got.Total != 1 || got.Records[0].Title != "N1" {
		t.Errorf("tag filter = %+v", got)
	}
	if got := list("?limit=2"); got.Total != 3 || len(got.Records) != 2 {
		t.Errorf("limit: total=%d len=%d", got.Total, len(got.Records))
	}
	if got := list("?offset=2"); len(got.Records) != 1 {
		t.Errorf("offset: len=%d", len(got.Records))
	}
}

func TestSearch(t *testing.T) {
	srv, _ := newServer(t, false, "")

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/search", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing q = %d", resp.StatusCode)
	}

	doJSON(t, http.MethodPost, srv.URL+"/records", CreateRecordRequest{
		Type: "note", Title: "Composting Basics", Body: "Layer greens and browns.\n",
	}, nil)

	resp, data := doJSON(t, http.MethodGet, srv.URL+"/search?q=Composting", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search = %d", resp.StatusCode)
	}
	var out struct {
		Results []store.SearchResult `json:"results"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 || out.Results[0].ID != "note-0001" {
		t.Errorf("results = %+v", out.Results)
	}
}

func TestGraphEndpoint(t *testing.T) {
	srv, _ := newServer(t, false, "")

	doJSON(t, http.MethodPost, srv.URL+"/records", CreateRecordRequest{Type: "note", Title: "A"}, nil)
	doJSON(t, http.MethodPost, srv.URL+"/records", CreateRecordRequest{
		Type: "note", Title: "B", Links: []string{"note-0001"},
	}, nil)

	resp, data := doJSON(t, http.MethodGet, srv.URL+"/graph", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("graph = %d", resp.StatusCode)
	}
	var out struct {
		Nodes []GraphNode `json:"nodes"`
		Links []GraphLink `json:"links"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Nodes) != 2 || len(out.Links) != 1 {
		t.Errorf("nodes=%d links=%d", len(out.Nodes), len(out.Links))
	}
	if out.Links[0].Source != "note-0002" || out.Links[0].Target != "note-0001" {
		t.Errorf("links = %+v", out.Links)
	}
}

func TestAdminCheck(t *testing.T) {
	srv, _ := newServer(t, false, "")

	resp, data := doJSON(t, http.MethodPost, srv.URL+"/admin/check", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check = %d: %s", resp.StatusCode, data)
	}
	var res struct {
		OK bool   `json:"ok"`
		Op string `json:"op"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Op != "check" {
		t.Errorf("res = %+v", res)
	}
}

func TestAdminRollbackWithoutBackups(t *testing.T) {
	srv, _ := newServer(t, false, "")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/admin/rollback", nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("rollback without backups = %d", resp.StatusCode)
	}
}

func TestAdminDrainAndEvents(t *testing.T) {
	srv, _ := newServer(t, false, "")

	doJSON(t, http.MethodPost, srv.URL+"/records", CreateRecordRequest{Type: "note", Title: "X"}, map[string]string{
		"X-Session-ID": "sess-1",
	})

	resp, data := doJSON(t, http.MethodPost, srv.URL+"/admin/drain", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("drain = %d", resp.StatusCode)
	}
	var drained struct {
		Drained []dispatch.DrainResult `json:"drained"`
	}
	if err := json.Unmarshal(data, &drained); err != nil {
		t.Fatal(err)
	}
	if len(drained.Drained) != 0 {
		t.Errorf("nothing retryable expected, got %+v", drained.Drained)
	}

	resp, data = doJSON(t, http.MethodGet, srv.URL+"/admin/events", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events = %d", resp.StatusCode)
	}
	var events struct {
		Events []store.WALEvent `json:"events"`
	}
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatal(err)
	}
	if len(events.Events) != 1 || events.Events[0].Hook != "record.created" || events.Events[0].SessionID != "sess-1" {
		t.Errorf("events = %+v", events.Events)
	}
	if events.Events[0].Status != store.EventCompleted {
		t.Errorf("status = %q", events.Events[0].Status)
	}
}
