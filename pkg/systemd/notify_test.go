package systemd

import (
	"testing"
	"time"
)

func TestNotifierStates(t *testing.T) {
	t.Parallel()

	var sent []string
	n := &Notifier{notify: func(state string) (bool, error) {
		sent = append(sent, state)
		return true, nil
	}}

	_ = n.Ready()
	_ = n.Watchdog()
	n.watchdog = 30 * time.Second
	_ = n.Watchdog()
	_ = n.Stopping()

	want := []string{"READY=1", "WATCHDOG=1", "STOPPING=1"}
	if len(sent) != len(want) {
		t.Fatalf("sent = %v, want %v", sent, want)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("sent[%d] = %q, want %q", i, sent[i], want[i])
		}
	}
}

func TestNilNotifier(t *testing.T) {
	t.Parallel()

	var n *Notifier
	if err := n.Ready(); err != nil {
		t.Fatalf("nil Ready: %v", err)
	}
}
