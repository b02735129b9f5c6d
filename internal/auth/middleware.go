package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/querylens/querylens/internal/observability"
)

type contextKey string

const identityKey contextKey = "querylens_identity"

const (
	// KeySourceHeader marks a key sent in X-API-Key.
	KeySourceHeader = "x-api-key"
	// KeySourceBearer marks a key sent as an Authorization bearer token.
	KeySourceBearer = "bearer"
)

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

type credential struct {
	key    string
	source string
}

type rejection struct {
	reason  string
	message string
}

var (
	rejectMissing     = rejection{reason: "missing", message: "an API key is required in X-API-Key or Authorization: Bearer"}
	rejectUnsupported = rejection{reason: "unsupported_scheme", message: "Authorization must use the Bearer scheme"}
	rejectInvalid     = rejection{reason: "invalid", message: "invalid API key"}
)

// Middleware resolves the caller's API key to an Identity and stores it on the
// request context. Role checks happen per handler.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := observability.RequestLogger(r.Context(), logger).With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			cred, failure := extractCredential(r)
			if failure != nil {
				reject(w, r, reqLogger, *failure)
				return
			}

			identity, ok := validator.Validate(r.Context(), cred.key)
			if !ok {
				reqLogger.WarnContext(r.Context(), "api key rejected", slog.String("key_source", cred.source))
				reject(w, r, reqLogger, rejectInvalid)
				return
			}
			identity.KeySource = cred.source

			reqLogger.DebugContext(r.Context(), "request authenticated",
				slog.String("principal", identity.Principal),
				slog.Any("roles", identity.Roles),
				slog.String("key_source", cred.source),
			)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// extractCredential prefers X-API-Key over an Authorization bearer token.
func extractCredential(r *http.Request) (credential, *rejection) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return credential{key: key, source: KeySourceHeader}, nil
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		return credential{}, &rejectMissing
	}
	scheme, token, _ := strings.Cut(authorization, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return credential{}, &rejectUnsupported
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return credential{}, &rejectMissing
	}
	return credential{key: token, source: KeySourceBearer}, nil
}

func reject(w http.ResponseWriter, r *http.Request, logger *slog.Logger, failure rejection) {
	observability.ObserveAuthFailure(failure.reason)
	if failure.reason != rejectInvalid.reason {
		logger.InfoContext(r.Context(), "request without usable api key", slog.String("reason", failure.reason))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="querylens"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    failure.message,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
		"reason":     failure.reason,
	})
}
