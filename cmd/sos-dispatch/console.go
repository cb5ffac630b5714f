package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mr1hm/acs-fasttrack/internal/dispatch"
	"github.com/mr1hm/acs-fasttrack/internal/geo"
	"github.com/mr1hm/acs-fasttrack/internal/gesture"
	"github.com/mr1hm/acs-fasttrack/internal/location"
)

// console is the headless stand-in for the SOS screen.
type console struct {
	ctrl    *dispatch.Controller
	gate    *gesture.HoldGate
	tracker *location.Tracker
	in      *bufio.Scanner
	out     io.Writer
}

func (c *console) printHelp() {
	printf(c.out, `Commands:
  hold        press and hold the SOS button
  release     release the SOS button
  cancel      cancel the active emergency request
  call        call the emergency number directly
  status      show location and request status
  background  simulate the app going to the background
  foreground  simulate the app returning to the foreground
  quit        exit
`)
}

// run reads commands until quit or end of input.
func (c *console) run(ctx context.Context) {
	for c.in.Scan() {
		if !c.handle(ctx, strings.TrimSpace(c.in.Text())) {
			return
		}
	}
}

func (c *console) handle(ctx context.Context, cmd string) bool {
	switch strings.ToLower(cmd) {
	case "":
	case "hold":
		if !c.gate.Press() {
			printf(c.out, "SOS button is disabled while a request is in progress\n")
		}
	case "release":
		c.gate.Release()
	case "cancel":
		if c.ctrl.State() == dispatch.StateIdle {
			printf(c.out, "No active emergency request\n")
			break
		}
		if !c.confirm("Cancel the emergency request? (y/N) ") {
			break
		}
		if err := c.ctrl.Cancel(ctx); err != nil {
			slog.Warn("cancel not confirmed", "error", err)
		}
	case "call":
		if err := c.ctrl.CallEmergencyNumber(); err != nil {
			printf(c.out, "Could not place call: %v\n", err)
		}
	case "status":
		c.printStatus()
	case "background":
		c.tracker.Background()
	case "foreground":
		c.tracker.Foreground()
	case "quit", "exit":
		return false
	default:
		printf(c.out, "Unknown command %q\n", cmd)
		c.printHelp()
	}
	return true
}

func (c *console) confirm(prompt string) bool {
	printf(c.out, "%s", prompt)
	if !c.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(c.in.Text()))
	return answer == "y" || answer == "yes"
}

func (c *console) printStatus() {
	loc := c.tracker.Snapshot()
	snap := c.ctrl.Snapshot()

	printf(c.out, "Location:  %s\n", loc.Address)
	if loc.HasFix {
		printf(c.out, "Distance:  %.2f km to hospital (%s mode)\n", loc.DistanceKm, loc.Mode)
	}
	printf(c.out, "Request:   %s\n", snap.State)
	if snap.EmergencyID != "" {
		printf(c.out, "ID:        %s\n", snap.EmergencyID)
		printf(c.out, "ETA:       %s\n", geo.FormatCountdown(snap.Remaining))
	}
}

func (c *console) printEvents(events <-chan dispatch.Event) {
	for ev := range events {
		switch ev.Kind {
		case dispatch.EventStateChanged:
			switch ev.State {
			case dispatch.StateSubmitting:
				printf(c.out, "Sending SOS to the hospital...\n")
			case dispatch.StateActive:
				printf(c.out, "Help is on the way (request %s). ETA %s\n", ev.EmergencyID, geo.FormatCountdown(ev.Remaining))
			case dispatch.StateIdle:
				c.gate.Reset()
				printf(c.out, "Ready\n")
			}
		case dispatch.EventCountdown:
			if ev.Remaining%30 == 0 || ev.Remaining <= 10 {
				printf(c.out, "ETA %s\n", geo.FormatCountdown(ev.Remaining))
			}
		case dispatch.EventError:
			printf(c.out, "! %s\n", ev.Message)
		case dispatch.EventWarning:
			printf(c.out, "! %s\n", ev.Message)
		case dispatch.EventFallback:
			printf(c.out, "! %s Type 'call' to dial %s.\n", ev.Message, ev.Number)
		case dispatch.EventDialed:
			printf(c.out, "Calling %s...\n", ev.Number)
		}
	}
}

// consoleFeedback renders haptic cues as text.
type consoleFeedback struct {
	out io.Writer
}

func (f consoleFeedback) Start()                { printf(f.out, "[hold] ") }
func (f consoleFeedback) Threshold(percent int) { printf(f.out, "%d%% ", percent) }
func (f consoleFeedback) Confirm()              { printf(f.out, "100%%\n") }

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
