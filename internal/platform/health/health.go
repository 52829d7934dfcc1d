// Package health serves the liveness probe every fulfillment process exposes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Apurer/order-fulfillment/internal/platform/messaging"
	platformpostgres "github.com/Apurer/order-fulfillment/internal/platform/postgres"
)

const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateDisabled     = "disabled"

	checkTimeout = 2 * time.Second
)

// Check reports the state of one dependency.
type Check func(ctx context.Context) string

// Reporter aggregates dependency checks. The process is reported healthy
// whenever it can answer; dependency states are informational.
type Reporter struct {
	service string

	mu     sync.RWMutex
	checks map[string]Check
}

func NewReporter(service string) *Reporter {
	return &Reporter{service: service, checks: map[string]Check{}}
}

// With registers check under name and returns the reporter.
func (r *Reporter) With(name string, check Check) *Reporter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check
	return r
}

// Report runs every check and returns the probe body.
func (r *Reporter) Report(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	r.mu.RLock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	body := map[string]string{"service": r.service, "status": "healthy"}
	for _, name := range names {
		body[name] = r.checks[name](ctx)
	}
	r.mu.RUnlock()
	return body
}

// Handle is the gin handler for GET /health.
func (r *Reporter) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, r.Report(c.Request.Context()))
}

// Broker reports the connectivity of a broker client.
func Broker(b interface{ Status() messaging.Status }) Check {
	return func(context.Context) string {
		if b == nil {
			return StateDisabled
		}
		if b.Status() == messaging.StatusConnected {
			return StateConnected
		}
		return StateDisconnected
	}
}

// Database pings db; a nil db means the process runs on in-memory stores.
func Database(db *gorm.DB) Check {
	return func(ctx context.Context) string {
		if db == nil {
			return StateDisabled
		}
		if err := platformpostgres.Ping(ctx, db); err != nil {
			return StateDisconnected
		}
		return StateConnected
	}
}

// Serve runs a probe-only HTTP server on addr until ctx ends.
func Serve(ctx context.Context, addr string, r *Reporter) error {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", r.Handle)
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	return ListenAndServe(ctx, srv)
}

// ListenAndServe runs srv until ctx ends, then shuts it down gracefully.
func ListenAndServe(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
