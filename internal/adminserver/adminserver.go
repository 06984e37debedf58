// Package adminserver is the operator-facing HTTP surface: a tiny chi
// router exposing /healthz, /status, and /admin/resume behind a JWT
// bearer-token middleware, in the same shape as the teacher's
// kernel/internal/handlers router plus kernel/internal/auth middleware
// wired together in cmd/kernel/main.go. Unlike the teacher's middleware
// (which only extracts a bearer token for a downstream OIDC validator to
// check), this surface validates the token itself with
// github.com/golang-jwt/jwt/v5, following the claims/scope checks in
// reasoning-graph/internal/auth/auth.go's verifyToken.
package adminserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/arborlabs/kbackup/internal/ledger"
	"github.com/arborlabs/kbackup/internal/pipeline"
)

// Orchestrator is the subset of *pipeline.Control the admin surface needs.
type Orchestrator interface {
	Status() pipeline.Status
	RequestResume()
}

// Config configures the admin surface's JWT enforcement.
type Config struct {
	// ListenAddr is the address http.Server listens on, e.g. ":9090".
	ListenAddr string
	// Secret is the HMAC signing secret validating bearer tokens. Empty
	// disables auth entirely (dev-only, mirrors the teacher's
	// ReasoningDevAllowLocal bypass).
	Secret string
	// RequiredScope is the scope/role claim a token must carry to call
	// POST /admin/resume. /status requires only a valid token; /healthz
	// requires none.
	RequiredScope string
}

// Server wraps the admin HTTP surface around a running pipeline.
type Server struct {
	cfg     Config
	orch    Orchestrator
	ledger  *ledger.Ledger
	httpSrv *http.Server
}

// New builds the chi router and http.Server, grounded on
// handlers.RegisterRoutes's route table shape.
func New(cfg Config, orch Orchestrator, lg *ledger.Ledger) *Server {
	s := &Server{cfg: cfg, orch: orch, ledger: lg}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(pr chi.Router) {
		pr.Use(s.requireToken(""))
		pr.Get("/status", s.handleStatus)
	})
	r.Group(func(pr chi.Router) {
		pr.Use(s.requireToken(cfg.RequiredScope))
		pr.Post("/admin/resume", s.handleResume)
	})

	s.httpSrv = &http.Server{Addr: cfg.ListenAddr, Handler: r}
	return s
}

// Handler returns the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe runs the admin HTTP server until ctx is canceled, then
// shuts it down gracefully, mirroring the teacher's main.go shutdown
// sequencing for its own http.Server.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[adminserver] listening on %s", s.cfg.ListenAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ts": time.Now().UTC()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.orch.Status()
	body := map[string]any{
		"bucket_index": st.BucketIndex,
		"key":          st.Key,
		"last_cursor":  st.LastCursor,
	}
	if s.ledger != nil {
		body["run_id"] = s.ledger.RunID()
		if runs, err := s.ledger.RecentRuns(r.Context(), 5); err == nil {
			body["recent_runs"] = runs
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.orch.RequestResume()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resume requested"})
}

// requireToken enforces a valid bearer token and, when scope is non-empty,
// that the token's "scope" (or "roles") claim contains it — the same two
// claim shapes reasoning-graph/internal/auth/auth.go's verifyToken checks.
func (s *Server) requireToken(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.Secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				http.Error(w, "bearer token required", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimSpace(authz[len("Bearer "):])

			claims, err := s.verifyToken(tokenStr)
			if err != nil {
				http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
				return
			}
			if scope != "" && !claimsHaveScope(claims, scope) {
				http.Error(w, "missing required scope", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) verifyToken(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid claims")
	}
	return claims, nil
}

func claimsHaveScope(claims jwt.MapClaims, scope string) bool {
	if s, ok := claims["scope"].(string); ok && strings.Contains(s, scope) {
		return true
	}
	if roles, ok := claims["roles"].([]any); ok {
		for _, r := range roles {
			if rs, ok := r.(string); ok && rs == scope {
				return true
			}
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
