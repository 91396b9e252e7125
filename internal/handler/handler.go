package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/atlekbai/fhirpath_sql/internal/service"
)

// maxBatch is the largest number of expressions one batch request may hold.
const maxBatch = 256

type Handler struct {
	compiler  *service.Compiler
	evaluator *service.Evaluator
}

// New creates the HTTP handlers. evaluator may be nil, in which case
// evaluation requests are refused.
func New(compiler *service.Compiler, evaluator *service.Evaluator) *Handler {
	return &Handler{compiler: compiler, evaluator: evaluator}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/translate", h.Translate).Methods(http.MethodPost)
	api.HandleFunc("/translate/batch", h.TranslateBatch).Methods(http.MethodPost)
	api.HandleFunc("/evaluate", h.Evaluate).Methods(http.MethodPost)
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
}

type translateRequest struct {
	Expression   string `json:"expression"`
	ResourceType string `json:"resource_type,omitempty"`
}

type batchRequest struct {
	Expressions  []string `json:"expressions"`
	ResourceType string   `json:"resource_type,omitempty"`
}

// Translate handles POST /api/translate
func (h *Handler) Translate(w http.ResponseWriter, r *http.Request) {
	req, ok := readTranslateRequest(w, r)
	if !ok {
		return
	}
	compiled, err := h.compiler.Compile(req.Expression, req.ResourceType)
	if err != nil {
		writeCompileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, compiled)
}

// TranslateBatch handles POST /api/translate/batch. Expressions that fail
// are reported per item; the request itself still succeeds.
func (h *Handler) TranslateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", err.Error())
		return
	}
	if len(req.Expressions) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_PARAM", "expressions must not be empty", "")
		return
	}
	if len(req.Expressions) > maxBatch {
		writeError(w, http.StatusBadRequest, "INVALID_PARAM", "Too many expressions", "at most 256 expressions per batch")
		return
	}

	items, err := h.compiler.CompileBatch(r.Context(), req.Expressions, req.ResourceType)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "CANCELLED", "Batch was cancelled", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// Evaluate handles POST /api/evaluate
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	if h.evaluator == nil {
		writeError(w, http.StatusServiceUnavailable, "EVALUATION_DISABLED",
			"Evaluation is not available",
			"the server runs without a Postgres connection")
		return
	}
	req, ok := readTranslateRequest(w, r)
	if !ok {
		return
	}

	compiled, rows, err := h.evaluator.Evaluate(r.Context(), req.Expression, req.ResourceType)
	if err != nil {
		if compiled == nil {
			writeCompileError(w, err)
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Query failed", err.Error())
		return
	}
	writeResults(w, compiled.SQL, rows)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"dialect":    h.compiler.Dialect().Name(),
		"evaluation": h.evaluator != nil,
	})
}

func readTranslateRequest(w http.ResponseWriter, r *http.Request) (translateRequest, bool) {
	var req translateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid request body", err.Error())
		return req, false
	}
	if strings.TrimSpace(req.Expression) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_PARAM", "expression is required", "")
		return req, false
	}
	return req, true
}

// writeResults writes the evaluation response, streaming the raw JSON
// result of every row without re-marshaling.
func writeResults(w http.ResponseWriter, sql string, rows []service.Row) {
	buf := &bytes.Buffer{}
	buf.WriteString(`{"sql":`)
	enc, _ := json.Marshal(sql)
	buf.Write(enc)
	buf.WriteString(`,"results":[`)
	for i, r := range rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"id":`)
		id, _ := json.Marshal(r.ID)
		buf.Write(id)
		buf.WriteString(`,"result":`)
		buf.Write(r.Result)
		buf.WriteByte('}')
	}
	buf.WriteString("]}\n")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
