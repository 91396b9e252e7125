package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/atlekbai/fhirpath_sql/internal/service"
)

// maxBodyBytes caps request bodies; expressions are short.
const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// writeCompileError reports a failed compilation with the status its
// error class maps to.
func writeCompileError(w http.ResponseWriter, err error) {
	code := service.ErrorCode(err)
	switch code {
	case "SYNTAX_ERROR":
		writeError(w, http.StatusBadRequest, code, "Invalid expression", err.Error())
	case "INTERNAL_ERROR", "ASSEMBLY_ERROR":
		writeError(w, http.StatusInternalServerError, code, "Compilation failed", err.Error())
	default:
		writeError(w, http.StatusUnprocessableEntity, code, "Expression cannot be translated", err.Error())
	}
}

// decode reads a JSON request body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
