package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/auth"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/capability"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/obs"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/profile"
	"github.com/DigitalQatalyst/DQ-Intranet-DWS-sub001/internal/session"
)

const serviceName = "dws-auth-api"

// Pinger is a dependency that can report its own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks every named dependency.
type ReadyProbe map[string]Pinger

func (rp ReadyProbe) Check(ctx context.Context) error {
	var errs []error
	for name, p := range rp {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, errors.New(name+": "+err.Error()))
		}
	}
	return errors.Join(errs...)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps wires the API to its collaborators. Access may be nil, which disables
// the access administration routes.
type Deps struct {
	Verifier     auth.Verifier
	Revoker      session.Revoker
	Profiles     profile.Store
	Access       profile.Access
	Evaluator    capability.Evaluator
	StableID     func(accountID string) string
	Ready        readinessChecker
	Version      string
	CORSOrigins  []string
	MaxBodyBytes int64
	RateBurst    int
	RatePerSec   int
	Logger       *slog.Logger
	Now          func() time.Time
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	deps Deps
	log  *slog.Logger
}

func New(d Deps) (*API, error) {
	if d.Verifier == nil || d.Profiles == nil || d.StableID == nil {
		return nil, errors.New("httpapi: verifier, profiles and stable id are required")
	}
	if d.Revoker == nil {
		d.Revoker = session.NewMemoryRevoker()
	}
	if d.Evaluator == nil {
		d.Evaluator = capability.Default()
	}
	if d.Ready == nil {
		d.Ready = ReadyProbe{}
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 1 << 20
	}
	if d.RateBurst <= 0 {
		d.RateBurst = 40
	}
	if d.RatePerSec <= 0 {
		d.RatePerSec = 20
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = obs.Logger()
	}

	a := &API{mux: http.NewServeMux(), deps: d, log: d.Logger.With("component", "httpapi")}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/api/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/api/auth/me", a.withAuth(http.HandlerFunc(a.handleMe)))
	a.mux.Handle("/api/auth/logout", a.withAuth(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/api/users/", a.withAuth(http.HandlerFunc(a.handleUserResource)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a, nil
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.deps.MaxBodyBytes)
	h = RateLimit(h, a.deps.RateBurst, a.deps.RatePerSec)
	h = CORS(a.deps.CORSOrigins)(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.deps.Now().UTC().Format(time.RFC3339),
		"version": a.deps.Version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
