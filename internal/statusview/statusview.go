// Package statusview is an optional live debug pane, shown only when
// -d/--debug is 2 or higher, displaying the player's current position,
// zone state, and nearby entity count while the headless client runs,
// built on gdamore/tcell/v2 and rivo/tview.
package statusview

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Snapshot is the data one refresh of the pane displays, passed in by the
// caller (the CLI wiring) rather than read from the core directly, so this
// package stays independent of internal/protocol and internal/movement.
type Snapshot struct {
	Zone      string
	X, Y, Z   float32
	Heading   float32
	ZonedIn   bool
	Moving    bool
	State     string
	EntityCount int
}

// View owns a tview.Application running the status pane on its own
// goroutine. A nil *View is valid and Update/Stop become no-ops, so callers
// don't need to branch on whether the view is enabled.
type View struct {
	app  *tview.Application
	text *tview.TextView
}

// New builds the pane but doesn't start it; call Start.
func New() *View {
	text := tview.NewTextView().SetDynamicColors(false)
	text.SetBorder(true).SetTitle(" status ")

	app := tview.NewApplication().SetRoot(text, true)
	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			app.Stop()
			return nil
		}
		return event
	})

	return &View{app: app, text: text}
}

// Start runs the pane's event loop in its own goroutine until ctx is
// cancelled or the operator quits the pane directly (Ctrl-C).
func (v *View) Start(ctx context.Context) {
	if v == nil {
		return
	}
	go func() {
		<-ctx.Done()
		v.app.Stop()
	}()
	go func() {
		if err := v.app.Run(); err != nil {
			// The pane is a debug convenience; a terminal error here
			// (e.g. no real TTY) must never bring down the client.
			_ = err
		}
	}()
}

// Update redraws the pane with s. Safe to call from the driver loop's
// goroutine: tview.Application.QueueUpdateDraw is the library's documented
// mechanism for updates originating outside its own event loop.
func (v *View) Update(s Snapshot) {
	if v == nil {
		return
	}
	v.app.QueueUpdateDraw(func() {
		v.text.SetText(fmt.Sprintf(
			"zone:     %s\nposition: (%.1f, %.1f, %.1f)\nheading:  %.1f\nzoned in: %v\nmoving:   %v (%s)\nentities: %d\n",
			s.Zone, s.X, s.Y, s.Z, s.Heading, s.ZonedIn, s.Moving, s.State, s.EntityCount,
		))
	})
}

// Stop tears down the pane outside of ctx cancellation, e.g. on a fatal
// startup error before the driver loop ever starts.
func (v *View) Stop() {
	if v == nil {
		return
	}
	v.app.Stop()
}
