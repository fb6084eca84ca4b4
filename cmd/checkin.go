package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/detection"
)

var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Run a headless detection session",
	Long: `Open the camera, load the gallery and record attendance until interrupted.
Every confirmed check-in is printed as it happens.`,
	RunE: runCheckin,
}

func init() {
	rootCmd.AddCommand(checkinCmd)

	checkinCmd.Flags().Int("concurrency", constants.DefaultConcurrency, "Reference images processed in parallel while loading the gallery")
}

func runCheckin(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, closeSinks := a.sinks(ctx)
	defer closeSinks()

	session := detection.NewSession(a.sessionConfig(a.recorder(), nil, sinks, mustGetInt(cmd, "concurrency")))
	events := session.Subscribe()
	go printCheckins(events)

	fmt.Println("Loading gallery and opening camera...")
	if err := session.Run(ctx); err != nil {
		return err
	}

	log := session.Log()
	fmt.Printf("\nSession ended: %d check-ins\n", len(log))
	return nil
}

// printCheckins prints state changes and check-ins until the session ends.
func printCheckins(events <-chan detection.Event) {
	for ev := range events {
		switch ev.Type {
		case detection.EventState:
			if ev.State == detection.StateRunning {
				fmt.Println("Watching for faces. Press Ctrl+C to stop")
			}
		case detection.EventCheckIn:
			c := ev.CheckIn
			switch {
			case !c.Recorded:
				fmt.Printf("%s  %-24s already checked in today\n", c.At.Format("15:04:05"), c.Name)
			case c.Lateness != "":
				fmt.Printf("%s  %-24s checked in, late by %s (%.1f%%)\n", c.At.Format("15:04:05"), c.Name, c.Lateness, c.Confidence*100)
			default:
				fmt.Printf("%s  %-24s checked in (%.1f%%)\n", c.At.Format("15:04:05"), c.Name, c.Confidence*100)
			}
		case detection.EventDegraded:
			fmt.Printf("Warning: %s\n", ev.Message)
		}
	}
}
