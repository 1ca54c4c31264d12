package output

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

type fakeClipboard struct {
	content   string
	failRead  bool
	failWrite bool
	writes    int
}

func (f *fakeClipboard) Read() (string, error) {
	if f.failRead {
		return "", errors.New("clipboard read refused")
	}
	return f.content, nil
}

func (f *fakeClipboard) Write(text string) error {
	if f.failWrite {
		return errors.New("clipboard write refused")
	}
	f.content = text
	f.writes++
	return nil
}

type fakeKeystroker struct {
	calls int
	err   error
}

func (f *fakeKeystroker) Paste() error {
	f.calls++
	return f.err
}

type fakeNotifier struct {
	titles []string
	bodies []string
}

func (f *fakeNotifier) Notify(title, body string) error {
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, body)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(cfg config.OutputConfig) (*Coordinator, *fakeClipboard, *fakeKeystroker, *fakeNotifier, *[]time.Duration) {
	clip := &fakeClipboard{}
	keys := &fakeKeystroker{}
	notifier := &fakeNotifier{}
	co := NewCoordinator(cfg, clip, keys, notifier, testLogger())
	var slept []time.Duration
	co.sleep = func(d time.Duration) { slept = append(slept, d) }
	return co, clip, keys, notifier, &slept
}

func TestDeliverCopyOnly(t *testing.T) {
	co, clip, keys, _, _ := newTestCoordinator(config.OutputConfig{AutoCopy: true})

	d, err := co.Deliver("hello world")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !d.Copied || d.Pasted {
		t.Fatalf("delivery = %+v, want copied only", d)
	}
	if clip.content != "hello world" {
		t.Fatalf("clipboard = %q, want %q", clip.content, "hello world")
	}
	if keys.calls != 0 {
		t.Fatalf("paste called %d times, want 0", keys.calls)
	}
}

func TestDeliverCopyAndPaste(t *testing.T) {
	co, clip, keys, _, slept := newTestCoordinator(config.OutputConfig{
		AutoCopy:     true,
		AutoPaste:    true,
		PasteDelayMS: 150,
	})

	d, err := co.Deliver("pasted text")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !d.Copied || !d.Pasted {
		t.Fatalf("delivery = %+v, want copied and pasted", d)
	}
	if clip.content != "pasted text" {
		t.Fatalf("clipboard = %q, want %q", clip.content, "pasted text")
	}
	if keys.calls != 1 {
		t.Fatalf("paste called %d times, want 1", keys.calls)
	}
	if len(*slept) != 1 || (*slept)[0] != 150*time.Millisecond {
		t.Fatalf("settle delays = %v, want one 150ms delay", *slept)
	}
}

func TestDeliverPasteFailureKeepsCopy(t *testing.T) {
	co, clip, keys, _, _ := newTestCoordinator(config.OutputConfig{
		AutoCopy:  true,
		AutoPaste: true,
	})
	keys.err = ErrPasteUnavailable

	d, err := co.Deliver("still copied")
	if err == nil {
		t.Fatal("expected paste error")
	}
	if !errors.Is(err, ErrPasteUnavailable) {
		t.Fatalf("error = %v, want ErrPasteUnavailable", err)
	}
	if !d.Copied {
		t.Fatal("copy should survive a paste failure")
	}
	if d.Pasted {
		t.Fatal("delivery should not report a paste")
	}
	if clip.content != "still copied" {
		t.Fatalf("clipboard = %q, want %q", clip.content, "still copied")
	}
}

func TestDeliverDisabledDoesNothing(t *testing.T) {
	co, clip, keys, _, _ := newTestCoordinator(config.OutputConfig{})

	d, err := co.Deliver("ignored")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if d.Copied || d.Pasted {
		t.Fatalf("delivery = %+v, want nothing", d)
	}
	if clip.writes != 0 || keys.calls != 0 {
		t.Fatalf("writes=%d pastes=%d, want no activity", clip.writes, keys.calls)
	}
}

func TestDeliverCopyFailure(t *testing.T) {
	co, clip, _, _, _ := newTestCoordinator(config.OutputConfig{AutoCopy: true})
	clip.failWrite = true

	d, err := co.Deliver("doomed")
	if err == nil {
		t.Fatal("expected copy error")
	}
	if d.Copied || d.Pasted {
		t.Fatalf("delivery = %+v, want nothing on copy failure", d)
	}
}

func TestSnapshotRestore(t *testing.T) {
	co, clip, _, _, _ := newTestCoordinator(config.OutputConfig{AutoCopy: true})
	clip.content = "previous contents"

	if err := co.Copy("replacement"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if clip.content != "replacement" {
		t.Fatalf("clipboard = %q, want %q", clip.content, "replacement")
	}
	if err := co.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if clip.content != "previous contents" {
		t.Fatalf("clipboard = %q, want snapshot back", clip.content)
	}

	// A second restore has nothing left to put back.
	writes := clip.writes
	if err := co.Restore(); err != nil {
		t.Fatalf("second Restore: %v", err)
	}
	if clip.writes != writes {
		t.Fatal("second restore should not touch the clipboard")
	}
}

func TestSnapshotIsOneSlot(t *testing.T) {
	co, clip, _, _, _ := newTestCoordinator(config.OutputConfig{AutoCopy: true})
	clip.content = "a"

	if err := co.Copy("b"); err != nil {
		t.Fatalf("Copy b: %v", err)
	}
	if err := co.Copy("c"); err != nil {
		t.Fatalf("Copy c: %v", err)
	}
	if err := co.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if clip.content != "b" {
		t.Fatalf("clipboard = %q, want %q (snapshot taken before the last copy)", clip.content, "b")
	}
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	co, clip, _, _, _ := newTestCoordinator(config.OutputConfig{})
	clip.content = "untouched"

	if err := co.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if clip.content != "untouched" || clip.writes != 0 {
		t.Fatalf("clipboard = %q writes=%d, want untouched", clip.content, clip.writes)
	}
}

func TestCopySnapshotReadFailureStillCopies(t *testing.T) {
	co, clip, _, _, _ := newTestCoordinator(config.OutputConfig{AutoCopy: true})
	clip.content = "unreadable"
	clip.failRead = true

	if err := co.Copy("fresh"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if clip.content != "fresh" {
		t.Fatalf("clipboard = %q, want %q", clip.content, "fresh")
	}
	// No snapshot was taken, so restore leaves the copy in place.
	if err := co.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if clip.content != "fresh" {
		t.Fatalf("clipboard = %q, want copy retained", clip.content)
	}
}

func TestPasteCopiesThenSendsChord(t *testing.T) {
	co, clip, keys, _, slept := newTestCoordinator(config.OutputConfig{PasteDelayMS: 50})

	if err := co.Paste("on demand"); err != nil {
		t.Fatalf("Paste: %v", err)
	}
	if clip.content != "on demand" {
		t.Fatalf("clipboard = %q, want %q", clip.content, "on demand")
	}
	if keys.calls != 1 {
		t.Fatalf("paste called %d times, want 1", keys.calls)
	}
	if len(*slept) != 1 || (*slept)[0] != 50*time.Millisecond {
		t.Fatalf("settle delays = %v, want one 50ms delay", *slept)
	}
}

func TestNotifyGatedOnConfig(t *testing.T) {
	co, _, _, notifier, _ := newTestCoordinator(config.OutputConfig{Notify: true})
	co.Notify("Transcription", "done")
	if len(notifier.titles) != 1 || notifier.titles[0] != "Transcription" || notifier.bodies[0] != "done" {
		t.Fatalf("notifications = %v / %v, want one", notifier.titles, notifier.bodies)
	}

	quiet, _, _, silent, _ := newTestCoordinator(config.OutputConfig{})
	quiet.Notify("Transcription", "done")
	if len(silent.titles) != 0 {
		t.Fatalf("notifications = %v, want none when disabled", silent.titles)
	}
}
