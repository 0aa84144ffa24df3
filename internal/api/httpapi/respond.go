package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/logger"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, log *logger.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to encode response", "error", err)
	}
}

// writeError maps typed errors to their status and code. Anything untyped is a 500 and
// its message is not exposed.
func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	if e, ok := apperr.From(err); ok {
		writeJSON(w, log, e.HTTPStatus(), errorBody{Error: errorDetail{Code: e.Code, Message: e.Message}})
		return
	}
	log.Error("request failed", "error", err.Error())
	writeJSON(w, log, http.StatusInternalServerError, errorBody{Error: errorDetail{Code: "internal_error", Message: "internal error"}})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.Validation("cannot read request body")
	}
	return b, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	b, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return apperr.Validation("request body is not valid JSON")
	}
	return nil
}
