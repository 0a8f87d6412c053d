// Package ingest implements the authenticated event intake: HMAC
// request verification, per-tenant rate limiting and the ingest
// handlers feeding the pipeline.
package ingest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/emberhq/emberwatch/internal/api"
	"github.com/emberhq/emberwatch/internal/metrics"
	"github.com/emberhq/emberwatch/internal/models"
)

// Request headers carrying the ingest credentials.
const (
	HeaderSignature  = "X-Signature"
	HeaderProjectKey = "X-Project-Key"
)

// DefaultMaxBody caps how much request body the authenticator will
// buffer for signature verification.
const DefaultMaxBody = 64 << 10

type contextKey int

const projectContextKey contextKey = 0

// ProjectFromContext returns the authenticated project set by the
// Authenticator middleware.
func ProjectFromContext(ctx context.Context) (*models.Project, bool) {
	project, ok := ctx.Value(projectContextKey).(*models.Project)
	return project, ok
}

// AuthConfig configures the ingest authenticator.
type AuthConfig struct {
	// LegacySecret authenticates requests without a project key under
	// the default tenant. Empty disables the fallback.
	LegacySecret string
	// MaxBody caps the buffered request body in bytes.
	MaxBody int64
}

// Authenticator verifies the HMAC-SHA256 signature of every ingest
// request and resolves the tenant it belongs to.
type Authenticator struct {
	keys   *KeyResolver
	config AuthConfig
	log    *zap.Logger
}

// NewAuthenticator creates the ingest authentication middleware.
func NewAuthenticator(keys *KeyResolver, config AuthConfig, log *zap.Logger) *Authenticator {
	if config.MaxBody <= 0 {
		config.MaxBody = DefaultMaxBody
	}
	return &Authenticator{keys: keys, config: config, log: log}
}

// Middleware authenticates the request and injects the tenant into the
// context. The body is consumed for verification and restored byte for
// byte for downstream handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sigHex := r.Header.Get(HeaderSignature)
		if sigHex == "" {
			a.reject(w, "missing signature")
			return
		}
		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			a.reject(w, "malformed signature")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBody)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				metrics.IngestRejectedTotal.WithLabelValues("oversize").Inc()
				api.JSONError(w, api.NewBadRequest("request body too large"))
				return
			}
			a.log.Warn("ingest body read failed", zap.Error(err))
			api.JSONError(w, api.NewBadRequest("unreadable request body"))
			return
		}

		project, secret, apiErr := a.resolveTenant(r)
		if apiErr != nil {
			metrics.IngestRejectedTotal.WithLabelValues("auth").Inc()
			api.JSONError(w, apiErr)
			return
		}

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		if !hmac.Equal(mac.Sum(nil), sig) {
			a.reject(w, "signature mismatch")
			return
		}

		// Downstream handlers see exactly the bytes that were signed.
		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(r.Context(), projectContextKey, project)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveTenant picks the project and HMAC secret for the request.
func (a *Authenticator) resolveTenant(r *http.Request) (*models.Project, string, *api.Error) {
	if key := r.Header.Get(HeaderProjectKey); key != "" {
		project, err := a.keys.Resolve(r.Context(), key)
		if err != nil {
			if errors.Is(err, ErrUnknownKey) {
				a.log.Warn("ingest rejected", zap.String("reason", "unknown project key"))
				return nil, "", api.ErrUnauthorized
			}
			a.log.Error("project key lookup failed", zap.Error(err))
			return nil, "", api.ErrInternalServer
		}
		return project, project.APIKey, nil
	}

	if a.config.LegacySecret != "" {
		return &models.Project{
			ID:   models.DefaultProjectID,
			Name: "default",
		}, a.config.LegacySecret, nil
	}

	// Neither a project key nor a legacy secret: operator error, and
	// the gate fails closed.
	a.log.Error("ingest auth not configured and no project key presented")
	return nil, "", api.ErrInternalServer
}

// reject logs the rejection category and answers 401. The signature
// value itself never reaches the logs.
func (a *Authenticator) reject(w http.ResponseWriter, reason string) {
	metrics.IngestRejectedTotal.WithLabelValues("auth").Inc()
	a.log.Warn("ingest rejected", zap.String("reason", reason))
	api.JSONError(w, api.ErrUnauthorized)
}
