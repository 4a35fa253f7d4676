// Command hub is the thin launcher for the Starlight sentinel coordination
// hub: load config, wire every component via hub.New, listen for HTTP/WS
// traffic, and drain in-flight work on SIGINT/SIGTERM. Adapted from the
// teacher's fluxforge/agent/main.go signal-handling shape (a buffered
// os.Signal channel, a goroutine that cancels a context on receipt, then
// the remainder of main blocking on <-ctx.Done()) generalized from one
// service loop to an HTTP server plus the execution pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starlighthub/sentinel-hub/config"
	"github.com/starlighthub/sentinel-hub/driver"
	"github.com/starlighthub/sentinel-hub/hub"
)

// shutdownTimeout bounds how long the hub waits to drain in-progress work
// before the process exits (spec §5: "drains in-progress work up to 5s").
const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("hub: failed to load config: %v", err)
	}

	// The module ships no production browser driver backend (spec §6
	// names it an external collaborator); driver.Fake stands in so the
	// hub can run end-to-end in a bare checkout.
	h, err := hub.New(cfg, driver.NewFake())
	if err != nil {
		log.Fatalf("hub: failed to wire components: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Println("hub: received shutdown signal")
		case reason := <-h.Done():
			log.Printf("hub: shutting down (%s)", reason)
		}
		cancel()
	}()

	go h.Run(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: h.Mux(),
	}
	go func() {
		log.Printf("hub: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("hub: http server failed: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Println("hub: shutting down")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer drainCancel()

	var g errgroup.Group
	g.Go(func() error {
		return srv.Shutdown(drainCtx)
	})
	g.Go(func() error {
		return h.Shutdown(shutdownTimeout)
	})
	if err := g.Wait(); err != nil {
		log.Printf("hub: error during shutdown drain: %v", err)
	}
	log.Println("hub: stopped")
}
