// Package dashboard serves the race-control surface over HTTP: JSON queries,
// operator commands and a server-sent event stream of everything the engine
// broadcasts. All engine access goes through the driver so requests are
// serialised with ticks.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/racecontrol/racecontrol/control"
	"github.com/racecontrol/racecontrol/internal/driver"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Driver *driver.Driver
	Port   int
	Out    io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Driver == nil {
		return fmt.Errorf("dashboard: driver is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	hub := NewHub()
	detach := Attach(opts.Driver, hub)
	defer detach()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts.Driver, hub),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Race control dashboard at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// Attach feeds every engine event into hub and returns the detach func.
func Attach(d *driver.Driver, hub *Hub) (detach func()) {
	var unsubscribe func()
	_ = d.Do(func(e *control.Engine) error {
		unsubscribe = e.Bus().OnAll(hub.Publish)
		return nil
	})
	return func() {
		_ = d.Do(func(*control.Engine) error {
			unsubscribe()
			return nil
		})
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d *driver.Driver, hub *Hub) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, d, hub)
	return router
}
