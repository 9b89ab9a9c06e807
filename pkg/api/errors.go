package api

import (
	"encoding/json"
	"net/http"

	"github.com/a3s-box/box/pkg/errs"
)

// errorResponse is the JSON body written for any non-2xx response, a
// single consistent shape so cmd/box can render every failure the
// same way regardless of which handler produced it.
type errorResponse struct {
	Error string    `json:"error"`
	Kind  errs.Kind `json:"kind"`
}

// statusFor maps an errs.Kind onto the HTTP status that best describes
// it, the same classification pkg/errs already performs for CLI
// rendering, repurposed here for wire responses instead of log lines.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindUser:
		return http.StatusBadRequest
	case errs.KindPrecondition:
		return http.StatusConflict
	case errs.KindResource:
		return http.StatusTooManyRequests
	case errs.KindExternal:
		return http.StatusBadGateway
	case errs.KindIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeJSON(w, statusFor(kind), errorResponse{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeResult writes v as a 200 JSON body, or translates err into a
// mapped error response. It returns whether the call succeeded, so a
// handler that ignores the return value is still correct (the error
// branch already wrote the response).
func writeResult(w http.ResponseWriter, v any, err error) bool {
	if err != nil {
		writeError(w, err)
		return false
	}
	writeJSON(w, http.StatusOK, v)
	return true
}

// decodeBody decodes r's JSON body into v, writing a 400 error
// response and returning false on failure. An empty body decodes to
// v's zero value rather than failing, so routes like start/stop whose
// struct fields are all optional can be called with no body.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errs.New(errs.KindUser, "api.decode", "", err))
		return false
	}
	return true
}
