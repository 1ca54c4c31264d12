package output

import (
	"github.com/gen2brain/beeep"
)

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(title, body string) error
}

// BeeepNotifier uses the platform notification service.
type BeeepNotifier struct{}

func (BeeepNotifier) Notify(title, body string) error {
	return beeep.Notify(title, body, "")
}
