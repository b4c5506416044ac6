// Package tray provides a system tray interface for targetlock.
package tray

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/ayusman/targetlock/internal/app"
	"github.com/ayusman/targetlock/internal/tracker"
)

// StatusSource yields pipeline status snapshots.
type StatusSource interface {
	Status() app.Status
}

// Tray represents the system tray application.
type Tray struct {
	onToggle func(enabled bool)
	onOpen   func()
	onQuit   func()
	enabled  bool
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle  *systray.MenuItem
	menuOutcome *systray.MenuItem
	menuStats   *systray.MenuItem
}

// New creates a new Tray instance with the given initial enabled state.
func New(enabled bool) *Tray {
	return &Tray{
		enabled: enabled,
	}
}

// OnToggle sets the callback function to be called when the enabled state is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpen sets the callback function to be called when the viewer menu item is clicked.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray, making Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("targetlock")
	systray.SetTooltip("targetlock planar target tracker")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleLabel(t.enabled), "Toggle detection")
	systray.AddSeparator()

	t.menuOutcome = systray.AddMenuItem(outcomeLabel(0), "Outcome of the last frame")
	t.menuOutcome.Disable()
	t.menuStats = systray.AddMenuItem(statsLabel(app.Status{}), "Frames processed and dropped")
	t.menuStats.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open Viewer...", "Open the annotated stream in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit targetlock")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	t.menuToggle.SetTitle(toggleLabel(enabled))
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetStatus updates the outcome and counter lines in the menu.
func (t *Tray) SetStatus(st app.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st.Enabled != t.enabled {
		t.enabled = st.Enabled
		if t.menuToggle != nil {
			t.menuToggle.SetTitle(toggleLabel(t.enabled))
		}
	}
	if t.menuOutcome != nil {
		t.menuOutcome.SetTitle(outcomeLabel(st.LastOutcome))
	}
	if t.menuStats != nil {
		t.menuStats.SetTitle(statsLabel(st))
	}
}

// Watch refreshes the menu from src every interval until ctx is done.
func (t *Tray) Watch(ctx context.Context, src StatusSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.SetStatus(src.Status())
		}
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func toggleLabel(enabled bool) string {
	if enabled {
		return "● Detection enabled"
	}
	return "○ Detection disabled"
}

func outcomeLabel(o tracker.Outcome) string {
	switch o {
	case 0:
		return "Last: none"
	case tracker.OutcomeDetected:
		return "Last: target locked"
	case tracker.OutcomeRejected:
		return "Last: rejected"
	case tracker.OutcomeTooFewMatches:
		return "Last: too few matches"
	case tracker.OutcomeTooFewKeypoints:
		return "Last: too few keypoints"
	default:
		return "Last: " + o.String()
	}
}

func statsLabel(st app.Status) string {
	return fmt.Sprintf("Frames: %d processed, %d dropped", st.Processed, st.DroppedInputs+st.DroppedOutputs)
}
