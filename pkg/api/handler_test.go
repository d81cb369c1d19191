package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hazyhaar/contacts-merger/pkg/config"
	"github.com/hazyhaar/contacts-merger/pkg/history"
	"github.com/hazyhaar/contacts-merger/pkg/pipeline"
)

const googleCSV = "Name,Phone 1 - Value,Group Membership\n" +
	"Jane Doe,+201000000001,Family\n"

const mssqlCSV = "Name,Mobile\n" +
	"Jane Doe,01000000001\n" +
	"Omar Said,01000000003\n"

type env struct {
	dir    string
	router http.Handler
	hist   *history.DB
}

func setup(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	runner, err := pipeline.New(config.Default(), h, logger)
	if err != nil {
		t.Fatal(err)
	}
	return &env{
		dir:    dir,
		hist:   h,
		router: NewRouter(runner, h, Options{WorkDir: filepath.Join(dir, "uploads"), Logger: logger}),
	}
}

func (e *env) write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) postJSON(t *testing.T, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func TestHealth(t *testing.T) {
	e := setup(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp healthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "ok" || resp.Busy || !resp.History {
		t.Errorf("health = %+v", resp)
	}
}

func TestIndex(t *testing.T) {
	e := setup(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Start Merge", `name="google"`, `name="mssql"`, "multiple", `name="dry_run"`} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if rec := e.do(httptest.NewRequest(http.MethodGet, "/nope", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d", rec.Code)
	}
}

func TestMergeJSON(t *testing.T) {
	e := setup(t)
	google := e.write(t, "google.csv", googleCSV)
	mssql := e.write(t, "mssql.csv", mssqlCSV)
	out := filepath.Join(e.dir, "merged.csv")

	rec := e.postJSON(t, "/v1/merge", httpMergeRequest{Google: google, MSSQL: []string{mssql}, Output: out})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		RunID   string `json:"run_id"`
		Output  string `json:"output"`
		Summary struct {
			Kept, Skipped, Output int
		} `json:"summary"`
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Output != out || resp.Summary.Kept != 2 || resp.Summary.Skipped != 1 || len(resp.Entries) != 3 {
		t.Errorf("response = %+v", resp)
	}

	dl := e.do(httptest.NewRequest(http.MethodGet, "/runs/"+resp.RunID+"/output", nil))
	if dl.Code != http.StatusOK || !strings.Contains(dl.Body.String(), "Given Name") {
		t.Errorf("download status = %d body = %q", dl.Code, dl.Body)
	}
}

func TestMergeJSONErrors(t *testing.T) {
	e := setup(t)
	google := e.write(t, "google.csv", googleCSV)
	badHeader := e.write(t, "bad.csv", "OnlyOne\nx\n")

	tests := []struct {
		name string
		body any
		want int
	}{
		{"no mssql", httpMergeRequest{Google: google}, http.StatusBadRequest},
		{"missing file", httpMergeRequest{Google: google, MSSQL: []string{filepath.Join(e.dir, "nope.csv")}}, http.StatusUnprocessableEntity},
		{"bad format", httpMergeRequest{Google: google, MSSQL: []string{badHeader}}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := e.postJSON(t, "/v1/merge", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/merge", strings.NewReader("{"))
	if rec := e.do(req); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d", rec.Code)
	}
	if rec := e.do(httptest.NewRequest(http.MethodGet, "/v1/merge", nil)); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /v1/merge status = %d", rec.Code)
	}
}

func TestUpload(t *testing.T) {
	e := setup(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range []struct{ field, name, body string }{
		{"google", "contacts.csv", googleCSV},
		{"mssql", "customers.csv", mssqlCSV},
		{"mssql", "customers.csv", "Name,Mobile\nNew Person,01000000007\n"},
	} {
		w, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(w, f.body)
	}
	mw.WriteField("dry_run", "1")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/merge", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := e.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	for _, want := range []string{"Input 4, output 3", "Dry run: no contacts file was written", "merge_log_", "New Person"} {
		if !strings.Contains(body, want) {
			t.Errorf("result page missing %q", want)
		}
	}

	runs, err := e.hist.List(0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v", runs, err)
	}
	if len(runs[0].MSSQL) != 2 || runs[0].MSSQL[0] == runs[0].MSSQL[1] {
		t.Errorf("uploads with the same name must not collide: %v", runs[0].MSSQL)
	}
}

func TestUploadMissingFile(t *testing.T) {
	e := setup(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	w, _ := mw.CreateFormFile("google", "contacts.csv")
	io.WriteString(w, googleCSV)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/merge", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := e.do(req)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "choose a MSSQL CSV file") {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body)
	}
}

func TestListRuns(t *testing.T) {
	e := setup(t)
	google := e.write(t, "google.csv", googleCSV)
	mssql := e.write(t, "mssql.csv", mssqlCSV)
	for i := 0; i < 2; i++ {
		if rec := e.postJSON(t, "/v1/merge", httpMergeRequest{Google: google, MSSQL: []string{mssql}, DryRun: true}); rec.Code != http.StatusOK {
			t.Fatalf("merge status = %d", rec.Code)
		}
	}

	rec := e.do(httptest.NewRequest(http.MethodGet, "/v1/runs?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp runsResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Runs) != 1 || resp.Runs[0].Status != history.StatusOK || !resp.Runs[0].DryRun {
		t.Errorf("runs = %+v", resp.Runs)
	}

	for _, q := range []string{"abc", "5000"} {
		if rec := e.do(httptest.NewRequest(http.MethodGet, "/v1/runs?limit="+q, nil)); rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d", q, rec.Code)
		}
	}

	dl := e.do(httptest.NewRequest(http.MethodGet, "/runs/"+resp.Runs[0].ID+"/output", nil))
	if dl.Code != http.StatusNotFound {
		t.Errorf("dry-run download status = %d", dl.Code)
	}
}

func TestSameOrigin(t *testing.T) {
	e := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	if rec := e.do(req); rec.Code != http.StatusForbidden {
		t.Errorf("cross-origin status = %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Origin", "http://"+req.Host)
	if rec := e.do(req); rec.Code != http.StatusOK {
		t.Errorf("same-origin status = %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(pipeline.ErrBusy); got != http.StatusConflict {
		t.Errorf("ErrBusy -> %d, want 409", got)
	}
	if got := statusFor(errNoHistory); got != http.StatusNotFound {
		t.Errorf("errNoHistory -> %d", got)
	}
}

func TestStringList(t *testing.T) {
	tests := []struct {
		in      any
		want    []string
		wantErr bool
	}{
		{nil, nil, false},
		{"a.csv, b.csv", []string{"a.csv", "b.csv"}, false},
		{[]any{"a.csv", " ", "b.csv"}, []string{"a.csv", "b.csv"}, false},
		{[]any{"a.csv", 3.0}, nil, true},
		{42.0, nil, true},
	}
	for _, tt := range tests {
		got, err := stringList(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("stringList(%v) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("stringList(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := setup(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/", nil))
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}
