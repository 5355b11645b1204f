// Package notify provides desktop notifications via D-Bus.
package notify

import (
	"github.com/rs/zerolog"

	"github.com/llehouerou/wavecore/internal/errmsg"
	"github.com/llehouerou/wavecore/internal/mpris"
)

// Urgency represents notification priority levels per freedesktop spec.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// Notification contains data for a desktop notification.
type Notification struct {
	Title      string  // Summary text (required)
	Body       string  // Body text (optional, supports basic markup)
	Icon       string  // Path to image file or icon name (optional)
	Timeout    int32   // ms, -1 = server default, 0 = never expire
	ReplacesID uint32  // 0 = new notification, >0 = replace existing
	Urgency    Urgency // Low, Normal, Critical
}

// Notifier sends desktop notifications.
type Notifier interface {
	// Notify sends a notification and returns its ID.
	// Returns 0 and nil error if notifications are disabled or unavailable.
	Notify(n Notification) (uint32, error)
	// Close closes a notification by ID.
	Close(id uint32) error
}

// Announcer shows what is playing, replacing its previous notification so
// that at most one is on screen.
type Announcer struct {
	n       Notifier
	log     zerolog.Logger
	timeout int32
	last    uint32
}

// NewAnnouncer returns an Announcer whose notifications expire after
// timeoutMs.
func NewAnnouncer(n Notifier, timeoutMs int32, log zerolog.Logger) *Announcer {
	return &Announcer{n: n, log: log, timeout: timeoutMs}
}

// Announce shows title and body with the artwork found next to path.
// Failures are logged, never returned.
func (a *Announcer) Announce(title, body, path string) {
	id, err := a.n.Notify(Notification{
		Title:      title,
		Body:       body,
		Icon:       mpris.FindAlbumArt(path),
		Timeout:    a.timeout,
		ReplacesID: a.last,
		Urgency:    UrgencyLow,
	})
	if err != nil {
		a.log.Debug().Err(err).Msg(errmsg.Format(errmsg.OpNotify, err))
		return
	}
	a.last = id
}

// Dismiss closes the current notification, if any.
func (a *Announcer) Dismiss() {
	if a.last == 0 {
		return
	}
	if err := a.n.Close(a.last); err != nil {
		a.log.Debug().Err(err).Msg("close notification")
	}
	a.last = 0
}
