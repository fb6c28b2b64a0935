// Package systemd speaks the sd_notify protocol for Type=notify units.
// Every call is a no-op outside systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "streamrelay/pkg/logx"
)

type Notifier struct {
	enabled bool
	log     logx.Logger
	send    func(state string) (bool, error)
	period  func() (time.Duration, error)
}

func New(enabled bool, log logx.Logger) *Notifier {
	return &Notifier{
		enabled: enabled,
		log:     log,
		send:    func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		period:  func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) notify(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.send(state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		n.log.Debug("sd_notify skipped (no NOTIFY_SOCKET)", logx.String("state", state))
	}
}

func (n *Notifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading() {
	n.notify(daemon.SdNotifyReloading)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) { n.notify("STATUS=" + s) }

// Watchdog pings at half of WATCHDOG_USEC until ctx ends. It returns at once
// when the unit has no watchdog.
func (n *Notifier) Watchdog(ctx context.Context) {
	if n == nil || !n.enabled {
		return
	}
	every, err := n.period()
	if err != nil || every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
