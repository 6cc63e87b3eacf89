package strategist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/strategist/internal/store"
)

func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	caller := &routingCaller{
		chunk:     func(string) (string, error) { return chunkAnswer, nil },
		synthesis: func(string) (string, error) { return synthesisAnswer, nil },
	}
	s := New(caller, Config{ChunkTargetSize: 1000}, quietLogger())
	s.SetStore(st)
	return NewServer(s, st, quietLogger()), st
}

func TestHandleAnalyze(t *testing.T) {
	// WHAT: POST /api/v1/analyze runs the pipeline and returns the schema.
	// WHY: The HTTP surface is how external callers reach the pipeline; its
	// happy path must round-trip the schema unmodified.
	srv, _ := testServer(t)

	body, _ := json.Marshal(AnalyzeRequest{HTML: jobListing(10), Query: "job titles"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var schema ExtractionSchema
	if err := json.Unmarshal(rec.Body.Bytes(), &schema); err != nil {
		t.Fatal(err)
	}
	if schema.Metadata.Rung != RungFull || schema.ItemSelector != "div.job" {
		t.Errorf("unexpected schema: rung=%q item=%q", schema.Metadata.Rung, schema.ItemSelector)
	}
}

func TestHandleAnalyzeBadRequest(t *testing.T) {
	// WHAT: Malformed bodies and missing fields get 400, not a pipeline run.
	// WHY: Input validation failures are the caller's problem and must be
	// distinguishable from pipeline failures.
	srv, _ := testServer(t)

	for _, body := range []string{"{not json", `{"html":"<p>x</p>"}`, `{"query":"titles"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestHandleSchemas(t *testing.T) {
	// WHAT: Saved schemas are listable and fetchable by id; a missing id
	// is a 404.
	// WHY: The read endpoints serve consumers that never ran an analysis;
	// they see only what persistence kept.
	srv, st := testServer(t)
	ctx := context.Background()

	saved := store.Record{Query: "q", SchemaJSON: `{"item_selector":"li"}`, Rung: "full"}
	if err := st.Save(ctx, &saved); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/schemas", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var recs []store.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != saved.ID {
		t.Errorf("list = %+v, want the saved record", recs)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/schemas/"+saved.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/schemas/absent", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d, want 404", rec.Code)
	}
}
