// Package output delivers finished transcripts to the desktop: clipboard,
// synthetic paste into the focused window, and user notifications.
package output

import (
	"github.com/atotto/clipboard"
)

// Clipboard abstracts the system clipboard.
type Clipboard interface {
	Read() (string, error)
	Write(text string) error
}

// SystemClipboard uses the platform clipboard.
type SystemClipboard struct{}

func (SystemClipboard) Read() (string, error) {
	return clipboard.ReadAll()
}

func (SystemClipboard) Write(text string) error {
	return clipboard.WriteAll(text)
}
