package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/detection"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the check-in API server.
The dashboard starts and stops detection sessions, watches live overlays
over server-sent events and reviews today's attendance. Absences are
marked daily at ABSENCE_MARK_AT.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Int("concurrency", constants.DefaultConcurrency, "Reference images processed in parallel when a session starts")
	serveCmd.Flags().Bool("start", false, "Start a detection session right away")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	webCfg := a.cfg.Web
	if port := mustGetInt(cmd, "port"); port > 0 {
		webCfg.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		webCfg.Host = host
	}

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinks, closeSinks := a.sinks(ctx)
	defer closeSinks()

	recorder := a.recorder()
	manager := detection.NewManager(a.sessionConfig(recorder, m, sinks, mustGetInt(cmd, "concurrency")))

	if at := a.cfg.Session.AbsenceMarkAt; at != "" {
		scheduler, err := attendance.NewAbsenceMarker(a.store, a.cfg.Location).Schedule(at)
		if err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	server := web.NewServer(webCfg, web.Deps{
		Sessions:   manager,
		Settings:   a.tunables,
		Attendance: recorder,
		Store:      a.store,
		Metrics:    m,
	}, a.logger)

	if mustGetBool(cmd, "start") {
		if _, err := manager.Start(ctx); err != nil {
			fmt.Printf("Warning: detection session did not start: %v\n", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		manager.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Attendance on http://%s:%d\n", webCfg.Host, webCfg.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
