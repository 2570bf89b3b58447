// Package systemd reports service state to the systemd manager.
//
// Every call is a no-op when the process was not started by systemd
// (NOTIFY_SOCKET unset).
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

type Notifier struct {
	notify   func(state string) (bool, error)
	watchdog time.Duration
}

func NewNotifier() *Notifier {
	n := &Notifier{notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) }}
	if d, err := daemon.SdWatchdogEnabled(false); err == nil {
		n.watchdog = d
	}
	return n
}

func (n *Notifier) Ready() error    { return n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() error { return n.send(daemon.SdNotifyStopping) }

// Watchdog pings the service watchdog. It does nothing when WatchdogSec is unset.
func (n *Notifier) Watchdog() error {
	if n.watchdog <= 0 {
		return nil
	}
	return n.send(daemon.SdNotifyWatchdog)
}

// WatchdogInterval is the WatchdogSec systemd configured, or 0.
func (n *Notifier) WatchdogInterval() time.Duration { return n.watchdog }

func (n *Notifier) send(state string) error {
	if n == nil || n.notify == nil {
		return nil
	}
	_, err := n.notify(state)
	return err
}
