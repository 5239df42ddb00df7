package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
	"github.com/DoyleJ11/tournament-vote-backend/internal/types"
)

const maxBody = 1 << 16

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), types.ErrorBody{Code: gameerr.Code(err), Message: err.Error()})
}

func statusFor(err error) int {
	switch gameerr.KindOf(err) {
	case gameerr.ErrInvalidInput:
		return http.StatusBadRequest
	case gameerr.ErrNotFound:
		return http.StatusNotFound
	case gameerr.ErrInvalidState, gameerr.ErrConflict:
		return http.StatusConflict
	case gameerr.ErrPreconditionFailed:
		return http.StatusPreconditionFailed
	case gameerr.ErrResourceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return gameerr.New(gameerr.ErrInvalidInput, "bad request body: %v", err)
	}
	return nil
}
