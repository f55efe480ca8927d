package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Tyrowin/gochat/internal/auth"
)

type identityKey struct{}

// FieldError is one entry of an error response.
type FieldError struct {
	Field        string `json:"field,omitempty"`
	ErrorMessage string `json:"errorMessage"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Errors []FieldError `json:"errors"`
}

// authenticated requires a valid bearer token and stores the caller's
// identity in the request context.
func (a *API) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "", "Authorization token has to be provided.")
			return
		}

		v, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			a.log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected bearer token")
			writeError(w, http.StatusUnauthorized, "", "Authorization token is invalid.")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, v.Identity)
		next(w, r.WithContext(ctx))
	})
}

func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey{}).(auth.Identity)
	return id
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeError(w http.ResponseWriter, status int, field, message string) {
	writeJSON(w, status, ErrorResponse{Errors: []FieldError{{Field: field, ErrorMessage: message}}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
