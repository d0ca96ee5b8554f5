// Package tray provides a system tray icon showing the latest prediction and
// a scan toggle for the running practice session.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle func(scanning bool)
	onOpen   func()
	onQuit   func()
	scanning bool
	last     string
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuLast   *systray.MenuItem
}

// New creates a new Tray instance in the not-scanning state.
func New() *Tray {
	return &Tray{}
}

// OnToggle sets the callback called when the scan toggle is clicked. It
// receives the requested state.
func (t *Tray) OnToggle(fn func(scanning bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnOpen sets the callback called when the open menu item is clicked.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops the tray loop.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("kai")
	systray.SetTooltip("Vowel sign practice")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.scanning), "Start or stop scanning")
	systray.AddSeparator()
	t.menuLast = systray.AddMenuItem(lastTitle(t.last), "Latest prediction")
	t.menuLast.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open in browser...", "Open the practice pages")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit kai")

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

// handleToggle asks for the opposite of the current scan state. The displayed
// state only changes once SetScanning reports the outcome.
func (t *Tray) handleToggle() {
	t.mu.RLock()
	want := !t.scanning
	callback := t.onToggle
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(want)
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

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetScanning updates the toggle to reflect the practice state.
func (t *Tray) SetScanning(scanning bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.scanning = scanning
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(scanning))
	}
}

// SetLastPrediction updates the latest prediction display. An empty label
// shows "none".
func (t *Tray) SetLastPrediction(label string, percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = ""
	if label != "" {
		t.last = fmt.Sprintf("%s (%.0f%%)", label, percent)
	}
	if t.menuLast != nil {
		t.menuLast.SetTitle(lastTitle(t.last))
	}
}

// IsScanning returns the displayed scan state.
func (t *Tray) IsScanning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scanning
}

// LastPrediction returns the displayed prediction text.
func (t *Tray) LastPrediction() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

func toggleTitle(scanning bool) string {
	if scanning {
		return "● Scanning"
	}
	return "○ Not scanning"
}

func lastTitle(last string) string {
	if last == "" {
		return "Last: none"
	}
	return "Last: " + last
}
