//go:build linux

// Package mpris exposes the engine to desktop media controls over D-Bus.
package mpris

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/quarckster/go-mpris-server/pkg/server"
	"github.com/quarckster/go-mpris-server/pkg/types"
	"github.com/rs/zerolog"

	"github.com/llehouerou/wavecore/internal/decoder"
	"github.com/llehouerou/wavecore/internal/engine"
)

// Adapter connects an engine to MPRIS over D-Bus.
type Adapter struct {
	server *server.Server
}

// New creates and starts a new MPRIS adapter.
func New(ctrl Controller, log zerolog.Logger) (*Adapter, error) {
	a := &Adapter{
		server: server.NewServer("wavecore", &rootAdapter{}, &playerAdapter{ctrl: ctrl}),
	}
	go func() {
		if err := a.server.Listen(); err != nil {
			log.Warn().Err(err).Msg("mpris server stopped")
		}
	}()
	return a, nil
}

// Close stops the adapter and releases D-Bus resources.
func (a *Adapter) Close() error {
	return a.server.Stop()
}

// rootAdapter implements OrgMprisMediaPlayer2Adapter.
type rootAdapter struct{}

func (r *rootAdapter) Raise() error                { return nil }
func (r *rootAdapter) Quit() error                 { return nil }
func (r *rootAdapter) CanQuit() (bool, error)      { return false, nil }
func (r *rootAdapter) CanRaise() (bool, error)     { return false, nil }
func (r *rootAdapter) HasTrackList() (bool, error) { return false, nil }
func (r *rootAdapter) Identity() (string, error)   { return "wavecore", nil }

//nolint:revive // Method name required by interface.
func (r *rootAdapter) SupportedUriSchemes() ([]string, error) {
	return []string{"file"}, nil
}

func (r *rootAdapter) SupportedMimeTypes() ([]string, error) {
	return mimeTypes(decoder.Extensions()), nil
}

// playerAdapter implements OrgMprisMediaPlayer2PlayerAdapter.
type playerAdapter struct {
	ctrl Controller
}

func (p *playerAdapter) current() (engine.QueueItem, bool) {
	for _, item := range p.ctrl.Queue() {
		if item.Playing {
			return item, true
		}
	}
	return engine.QueueItem{}, false
}

func (p *playerAdapter) Next() error { return p.ctrl.Skip() }

// Previous is a no-op: played passages leave the queue.
func (p *playerAdapter) Previous() error { return nil }

func (p *playerAdapter) Pause() error {
	p.ctrl.Pause()
	return nil
}

func (p *playerAdapter) PlayPause() error {
	if !p.ctrl.Pause() {
		p.ctrl.Resume()
	}
	return nil
}

func (p *playerAdapter) Stop() error {
	p.ctrl.Stop()
	return nil
}

func (p *playerAdapter) Play() error {
	p.ctrl.Resume()
	return nil
}

// Seek moves relative to the current position, clamped at the start.
func (p *playerAdapter) Seek(offset types.Microseconds) error {
	_, pos, ok := p.ctrl.Position()
	if !ok {
		return nil
	}
	return p.ctrl.Seek(max(pos+time.Duration(offset)*time.Microsecond, 0))
}

// SetPosition is ignored unless trackID names the current passage.
func (p *playerAdapter) SetPosition(trackID string, position types.Microseconds) error {
	item, ok := p.current()
	if !ok || trackID != string(formatTrackID(item)) || position < 0 {
		return nil
	}
	return p.ctrl.Seek(time.Duration(position) * time.Microsecond)
}

//nolint:revive // Method name required by interface.
func (p *playerAdapter) OpenUri(_ string) error { return nil }

func (p *playerAdapter) PlaybackStatus() (types.PlaybackStatus, error) {
	if _, ok := p.current(); !ok {
		return types.PlaybackStatusStopped, nil
	}
	if p.ctrl.Paused() {
		return types.PlaybackStatusPaused, nil
	}
	return types.PlaybackStatusPlaying, nil
}

func (p *playerAdapter) Rate() (float64, error)        { return 1.0, nil }
func (p *playerAdapter) SetRate(_ float64) error       { return nil }
func (p *playerAdapter) MinimumRate() (float64, error) { return 1.0, nil }
func (p *playerAdapter) MaximumRate() (float64, error) { return 1.0, nil }
func (p *playerAdapter) Volume() (float64, error)      { return 1.0, nil }
func (p *playerAdapter) SetVolume(_ float64) error     { return nil }

func (p *playerAdapter) Metadata() (types.Metadata, error) {
	item, ok := p.current()
	if !ok {
		return types.Metadata{}, nil
	}
	meta := types.Metadata{
		TrackId: formatTrackID(item),
		Length:  types.Microseconds(item.Duration.Microseconds()),
		Title:   strings.TrimSuffix(filepath.Base(item.Path), filepath.Ext(item.Path)),
	}
	if art := FindAlbumArt(item.Path); art != "" {
		meta.ArtUrl = "file://" + art
	}
	return meta, nil
}

func (p *playerAdapter) Position() (int64, error) {
	_, pos, _ := p.ctrl.Position()
	return pos.Microseconds(), nil
}

func (p *playerAdapter) CanGoNext() (bool, error)     { return len(p.ctrl.Queue()) > 0, nil }
func (p *playerAdapter) CanGoPrevious() (bool, error) { return false, nil }
func (p *playerAdapter) CanPlay() (bool, error)       { return len(p.ctrl.Queue()) > 0, nil }
func (p *playerAdapter) CanPause() (bool, error)      { return true, nil }
func (p *playerAdapter) CanSeek() (bool, error)       { return true, nil }
func (p *playerAdapter) CanControl() (bool, error)    { return true, nil }

func formatTrackID(item engine.QueueItem) dbus.ObjectPath {
	return dbus.ObjectPath("/org/wavecore/Passage/" + strings.ReplaceAll(item.PassageID.String(), "-", ""))
}
