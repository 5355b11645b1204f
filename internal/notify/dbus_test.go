//go:build linux

package notify

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifySendsNotification(t *testing.T) {
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		t.Skip("no D-Bus session available")
	}

	notifier, err := New()
	require.NoError(t, err)

	id, err := notifier.Notify(Notification{
		Title:   "wavecore test",
		Body:    "Test notification from unit test",
		Timeout: 1000,
		Urgency: UrgencyLow,
	})
	if err != nil {
		t.Skipf("no notification daemon: %v", err)
	}
	assert.NotZero(t, id)

	id2, err := notifier.Notify(Notification{Title: "replaced", Timeout: 1000, ReplacesID: id})
	require.NoError(t, err)
	assert.Equal(t, id, id2)
	assert.NoError(t, notifier.Close(id2))
}
