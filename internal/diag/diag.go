package diag

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hoodly/hoodlysync/internal/config"
)

// Status classifies one diagnostic check. Missing configuration yields
// StatusSkipped, never a failure.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Check is the outcome of one connectivity probe.
type Check struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Detail  string        `json:"detail,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Pinger verifies a direct database connection. The pgx pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// checkTimeout bounds each individual probe.
const checkTimeout = 5 * time.Second

// Runner probes the configured backends and reports per-endpoint health.
type Runner struct {
	cfg    config.Config
	client *http.Client
	db     Pinger
	now    func() time.Time
}

// NewRunner constructs a diagnostics runner. db may be nil when no direct
// database connection is configured.
func NewRunner(cfg config.Config, client *http.Client, db Pinger) *Runner {
	if client == nil {
		client = &http.Client{Timeout: checkTimeout}
	}
	return &Runner{
		cfg:    cfg,
		client: client,
		db:     db,
		now:    time.Now,
	}
}

// Run executes every probe and returns their outcomes in a fixed order.
func (r *Runner) Run(ctx context.Context) []Check {
	return []Check{
		r.checkREST(ctx),
		r.checkAuth(ctx),
		r.checkRealtime(),
		r.checkDatabase(ctx),
	}
}

// Healthy reports whether no check failed. Skipped checks do not count
// against health.
func Healthy(checks []Check) bool {
	for _, check := range checks {
		if check.Status == StatusFailed {
			return false
		}
	}
	return true
}

func (r *Runner) checkREST(ctx context.Context) Check {
	if !r.cfg.HasBackend() {
		return Check{Name: "rest", Status: StatusSkipped, Detail: "no backend configured"}
	}
	return r.probe(ctx, "rest", r.cfg.BackendURL+"/rest/v1/")
}

func (r *Runner) checkAuth(ctx context.Context) Check {
	if !r.cfg.HasBackend() {
		return Check{Name: "auth", Status: StatusSkipped, Detail: "no backend configured"}
	}
	return r.probe(ctx, "auth", r.cfg.BackendURL+"/auth/v1/health")
}

func (r *Runner) checkRealtime() Check {
	if r.cfg.RealtimeURL == "" {
		return Check{Name: "realtime", Status: StatusSkipped, Detail: "no realtime endpoint configured"}
	}
	// Reachability is proven on the first subscribe; configuration presence
	// is all this probe asserts.
	return Check{Name: "realtime", Status: StatusOK, Detail: r.cfg.RealtimeURL}
}

func (r *Runner) checkDatabase(ctx context.Context) Check {
	if r.db == nil {
		return Check{Name: "database", Status: StatusSkipped, Detail: "no direct database configured"}
	}

	started := r.now()
	pingCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := r.db.Ping(pingCtx); err != nil {
		return Check{Name: "database", Status: StatusFailed, Detail: err.Error(), Elapsed: r.now().Sub(started)}
	}
	return Check{Name: "database", Status: StatusOK, Elapsed: r.now().Sub(started)}
}

func (r *Runner) probe(ctx context.Context, name, url string) Check {
	started := r.now()

	reqCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Check{Name: name, Status: StatusFailed, Detail: err.Error(), Elapsed: r.now().Sub(started)}
	}
	if r.cfg.AnonKey != "" {
		req.Header.Set("apikey", r.cfg.AnonKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Check{Name: name, Status: StatusFailed, Detail: err.Error(), Elapsed: r.now().Sub(started)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Check{
			Name:    name,
			Status:  StatusFailed,
			Detail:  fmt.Sprintf("unexpected status %d", resp.StatusCode),
			Elapsed: r.now().Sub(started),
		}
	}
	return Check{Name: name, Status: StatusOK, Elapsed: r.now().Sub(started)}
}
