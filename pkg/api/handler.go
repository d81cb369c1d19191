package api

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/hazyhaar/contacts-merger/pkg/history"
	"github.com/hazyhaar/contacts-merger/pkg/kit"
	"github.com/hazyhaar/contacts-merger/pkg/pipeline"
	"github.com/hazyhaar/contacts-merger/pkg/source"
)

//go:embed templates/*.html
var templateFS embed.FS

const maxUpload = 256 << 20

// Options configure the router.
type Options struct {
	// WorkDir receives files uploaded through the form.
	WorkDir string
	Logger  *slog.Logger
}

// NewRouter returns an http.Handler with the web shell and the JSON API.
func NewRouter(runner *pipeline.Runner, hist *history.DB, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mw := func(name string) kit.Middleware {
		return kit.Chain(kit.WithTransportTag("http"), kit.Logging(logger, name))
	}

	mux := http.NewServeMux()
	h := &handler{
		merge:    mw("merge")(mergeEndpoint(runner)),
		listRuns: mw("list_runs")(listRunsEndpoint(hist)),
		runner:   runner,
		hist:     hist,
		workDir:  opts.WorkDir,
		tmpl:     template.Must(template.ParseFS(templateFS, "templates/*.html")),
		logger:   logger,
	}

	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("POST /merge", h.handleUpload)
	mux.HandleFunc("GET /runs/{id}/output", h.handleDownload)
	mux.HandleFunc("GET /v1/merge", methodNotAllowed)
	mux.HandleFunc("POST /v1/merge", h.handleMerge)
	mux.HandleFunc("GET /v1/runs", h.handleListRuns)
	mux.HandleFunc("GET /v1/health", h.handleHealth)

	return securityHeaders(sameOrigin(mux))
}

type handler struct {
	merge    kit.Endpoint
	listRuns kit.Endpoint
	runner   *pipeline.Runner
	hist     *history.DB
	workDir  string
	tmpl     *template.Template
	logger   *slog.Logger
}

// --- web shell ---

type pageData struct {
	Busy   bool
	Error  string
	Result *mergeResponse
}

func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, pageData{Busy: h.runner.Busy()})
}

func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.render(w, http.StatusBadRequest, pageData{Error: "upload failed: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	dir := filepath.Join(h.workDir, uuid.NewString())
	google, err := saveUploads(dir, "google", r.MultipartForm.File["google"])
	if err != nil || len(google) != 1 {
		h.render(w, http.StatusBadRequest, pageData{Error: uploadError("Google contacts CSV", err)})
		return
	}
	mssql, err := saveUploads(dir, "mssql", r.MultipartForm.File["mssql"])
	if err != nil || len(mssql) == 0 {
		h.render(w, http.StatusBadRequest, pageData{Error: uploadError("MSSQL CSV", err)})
		return
	}

	resp, err := h.merge(r.Context(), &pipeline.Request{
		Google: google[0],
		MSSQL:  mssql,
		DryRun: r.FormValue("dry_run") != "",
	})
	if err != nil {
		h.render(w, statusFor(err), pageData{Error: err.Error(), Busy: errors.Is(err, pipeline.ErrBusy)})
		return
	}
	mr := resp.(mergeResponse)
	h.render(w, http.StatusOK, pageData{Result: &mr})
}

func (h *handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	if h.hist == nil {
		writeError(w, http.StatusNotFound, errNoHistory.Error())
		return
	}
	run, err := h.hist.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown run")
		return
	}
	if run.Output == "" {
		writeError(w, http.StatusNotFound, "run wrote no output")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(run.Output)+`"`)
	http.ServeFile(w, r, run.Output)
}

func (h *handler) render(w http.ResponseWriter, code int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := h.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		h.logger.Error("render page", "error", err)
	}
}

// saveUploads copies uploaded files into dir/field and returns their paths.
func saveUploads(dir, field string, files []*multipart.FileHeader) ([]string, error) {
	var paths []string
	for i, fh := range files {
		name := filepath.Base(fh.Filename)
		if name == "." || name == string(filepath.Separator) || name == "" {
			name = "upload.csv"
		}
		dst := filepath.Join(dir, field, strconv.Itoa(i), name)
		if err := saveUpload(fh, dst); err != nil {
			return nil, err
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("store upload %s: %w", fh.Filename, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("store upload %s: %w", fh.Filename, err)
	}
	return out.Close()
}

func uploadError(what string, err error) string {
	if err != nil {
		return err.Error()
	}
	return "choose a " + what + " file"
}

// --- merge ---

type httpMergeRequest struct {
	Google string   `json:"google"`
	MSSQL  []string `json:"mssql"`
	Output string   `json:"output,omitempty"`
	LogDir string   `json:"log_dir,omitempty"`
	DryRun bool     `json:"dry_run"`
}

func (h *handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024) // 64 KiB max
	var req httpMergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.merge(r.Context(), &pipeline.Request{
		Google: req.Google,
		MSSQL:  req.MSSQL,
		Output: req.Output,
		LogDir: req.LogDir,
		DryRun: req.DryRun,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- runs ---

func (h *handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = n
	}
	resp, err := h.listRuns(r.Context(), &listRunsReq{Limit: limit})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- health ---

type healthResponse struct {
	Status  string `json:"status"`
	Busy    bool   `json:"busy"`
	History bool   `json:"history"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Busy:    h.runner.Busy(),
		History: h.hist != nil,
	})
}

// --- helpers ---

// statusFor maps pipeline and reader errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrRequest), errors.Is(err, errBadLimit):
		return http.StatusBadRequest
	case errors.Is(err, source.ErrUnreadable), errors.Is(err, source.ErrFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errNoHistory):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// securityHeaders adds standard security headers. The page has inline
// styles and no scripts.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "same-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'none'; style-src 'self' 'unsafe-inline'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// sameOrigin rejects cross-site requests. The shell runs merges on local
// paths, so only pages it served itself may call it.
func sameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				writeError(w, http.StatusForbidden, "cross-origin request refused")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
