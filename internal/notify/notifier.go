// Package notify sends late arrivals and attendance store outages to chat
// services through shoutrrr URLs.
package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/detection"
)

const defaultTimeout = 10 * time.Second

type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier is a detection.Sink that only speaks up when something needs a
// human: a recorded late arrival or a change in store health.
type Notifier struct {
	sender sender
}

var _ detection.Sink = (*Notifier)(nil)

// New builds a notifier for the given shoutrrr URLs.
func New(urls []string) (*Notifier, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one notification URL is required")
	}
	router, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("invalid notification URL: %w", err)
	}
	router.Timeout = defaultTimeout
	router.SetLogger(log.New(io.Discard, "", 0))
	return &Notifier{sender: router}, nil
}

// Name implements detection.Sink.
func (n *Notifier) Name() string { return "notify" }

// CheckIn notifies about newly recorded late arrivals and ignores the rest.
func (n *Notifier) CheckIn(ctx context.Context, ev detection.CheckIn) error {
	if !ev.Recorded || ev.Status != string(database.StatusLate) {
		return nil
	}
	body := fmt.Sprintf("%s checked in %s late at %s", ev.Name, ev.Lateness, ev.At.Format("15:04"))
	return n.send(ctx, "Late arrival", body)
}

// Degraded notifies about store outages and recoveries.
func (n *Notifier) Degraded(ctx context.Context, degraded bool, cause error) error {
	if !degraded {
		return n.send(ctx, "Attendance recovered", "Check-ins are being recorded again.")
	}
	body := "Check-ins are not being recorded."
	if cause != nil {
		body += " Error: " + cause.Error()
	}
	return n.send(ctx, "Attendance store unavailable", body)
}

// send delivers to every URL. The router applies its own timeout, so ctx
// is only checked before sending.
func (n *Notifier) send(ctx context.Context, title, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := stypes.Params{}
	params.SetTitle(title)
	for _, err := range n.sender.Send(body, &params) {
		if err != nil {
			return fmt.Errorf("send notification: %w", err)
		}
	}
	return nil
}
