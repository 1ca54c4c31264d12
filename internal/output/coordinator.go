package output

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// Delivery reports how a transcript reached the desktop.
type Delivery struct {
	Copied bool
	Pasted bool
}

// Coordinator owns the clipboard snapshot and sequences copy, paste and
// restore. The snapshot is a single slot: each copy overwrites it with
// whatever the clipboard held just before.
type Coordinator struct {
	cfg      config.OutputConfig
	clip     Clipboard
	keys     Keystroker
	notifier Notifier
	log      *slog.Logger
	sleep    func(time.Duration)

	mu       sync.Mutex
	snapshot string
	hasSnap  bool
}

func NewCoordinator(cfg config.OutputConfig, clip Clipboard, keys Keystroker, notifier Notifier, log *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		clip:     clip,
		keys:     keys,
		notifier: notifier,
		log:      log.With(slog.String("component", "output")),
		sleep:    time.Sleep,
	}
}

// Deliver applies the configured auto-copy/auto-paste behavior to a finished
// transcript. A paste failure still counts as a copied delivery; the error
// reports what went wrong.
func (c *Coordinator) Deliver(text string) (Delivery, error) {
	var d Delivery
	if !c.cfg.AutoCopy && !c.cfg.AutoPaste {
		return d, nil
	}
	if err := c.Copy(text); err != nil {
		return d, err
	}
	d.Copied = true
	if !c.cfg.AutoPaste {
		return d, nil
	}
	c.settle()
	if err := c.keys.Paste(); err != nil {
		return d, fmt.Errorf("paste: %w", err)
	}
	d.Pasted = true
	return d, nil
}

// Copy snapshots the current clipboard, then replaces it with text.
func (c *Coordinator) Copy(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, err := c.clip.Read(); err == nil {
		c.snapshot = prev
		c.hasSnap = true
	} else {
		c.log.Debug("clipboard snapshot failed", slog.String("error", err.Error()))
	}
	if err := c.clip.Write(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

// Paste copies text and sends the paste chord to the focused window.
func (c *Coordinator) Paste(text string) error {
	if err := c.Copy(text); err != nil {
		return err
	}
	c.settle()
	if err := c.keys.Paste(); err != nil {
		return fmt.Errorf("paste: %w", err)
	}
	return nil
}

// Restore puts the snapshotted clipboard content back. Without a snapshot it
// does nothing.
func (c *Coordinator) Restore() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasSnap {
		return nil
	}
	if err := c.clip.Write(c.snapshot); err != nil {
		return fmt.Errorf("restore clipboard: %w", err)
	}
	c.hasSnap = false
	c.snapshot = ""
	return nil
}

// Notify shows a desktop notification when notifications are enabled.
func (c *Coordinator) Notify(title, body string) {
	if !c.cfg.Notify || c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(title, body); err != nil {
		c.log.Debug("notification failed", slog.String("error", err.Error()))
	}
}

// settle gives the desktop a beat to register the clipboard write before the
// paste chord lands.
func (c *Coordinator) settle() {
	if delay := time.Duration(c.cfg.PasteDelayMS) * time.Millisecond; delay > 0 {
		c.sleep(delay)
	}
}
