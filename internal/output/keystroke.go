package output

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/micmonay/keybd_event"
)

// ErrPasteUnavailable is returned when the platform cannot deliver synthetic
// keystrokes, for example on a headless session.
var ErrPasteUnavailable = errors.New("synthetic paste unavailable")

// Keystroker sends the platform paste chord to the focused window.
type Keystroker interface {
	Paste() error
}

// KeybdPaster emits Ctrl+V (Cmd+V on macOS) via the OS keyboard event API.
type KeybdPaster struct {
	mu      sync.Mutex
	warmup  sync.Once
	kb      keybd_event.KeyBonding
	initErr error
}

func NewKeybdPaster() *KeybdPaster {
	p := &KeybdPaster{}
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		p.initErr = fmt.Errorf("%w: %v", ErrPasteUnavailable, err)
		return p
	}
	p.kb = kb
	return p
}

func (p *KeybdPaster) Paste() error {
	if p.initErr != nil {
		return p.initErr
	}
	// The uinput device needs a moment after creation before events are
	// seen by the session.
	p.warmup.Do(func() {
		if runtime.GOOS == "linux" {
			time.Sleep(2 * time.Second)
		}
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.kb.Clear()
	p.kb.SetKeys(keybd_event.VK_V)
	if runtime.GOOS == "darwin" {
		p.kb.HasSuper(true)
	} else {
		p.kb.HasCTRL(true)
	}
	if err := p.kb.Launching(); err != nil {
		return fmt.Errorf("%w: %v", ErrPasteUnavailable, err)
	}
	return nil
}
