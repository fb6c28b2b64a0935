package systemd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"

	logx "streamrelay/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) send(s string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	return true, nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func TestNotifierStates(t *testing.T) {
	rec := &recorder{}
	n := New(true, logx.Nop())
	n.send = rec.send

	n.Ready()
	n.Status("2 streams")
	n.Stopping()
	assert.Equal(t, []string{daemon.SdNotifyReady, "STATUS=2 streams", daemon.SdNotifyStopping}, rec.got())
}

func TestNotifierDisabled(t *testing.T) {
	rec := &recorder{}
	n := New(false, logx.Nop())
	n.send = rec.send
	n.Ready()
	n.Watchdog(context.Background())
	assert.Empty(t, rec.got())

	var nilN *Notifier
	nilN.Ready()
}

func TestWatchdog(t *testing.T) {
	rec := &recorder{}
	n := New(true, logx.Nop())
	n.send = rec.send
	n.period = func() (time.Duration, error) { return 20 * time.Millisecond, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { n.Watchdog(ctx); close(done) }()

	assert.Eventually(t, func() bool { return len(rec.got()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	for _, s := range rec.got() {
		assert.Equal(t, daemon.SdNotifyWatchdog, s)
	}
}

func TestWatchdogNotConfigured(t *testing.T) {
	n := New(true, logx.Nop())
	n.period = func() (time.Duration, error) { return 0, errors.New("no watchdog") }
	n.Watchdog(context.Background())
}
