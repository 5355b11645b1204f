package mpris

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/llehouerou/wavecore/internal/engine"
)

// Controller is the part of the engine exposed over MPRIS.
type Controller interface {
	Skip() error
	Pause() bool
	Resume() bool
	Paused() bool
	Stop()
	Seek(pos time.Duration) error
	Position() (uuid.UUID, time.Duration, bool)
	Queue() []engine.QueueItem
}

var _ Controller = (*engine.Engine)(nil)

var extMimeTypes = map[string]string{
	".mp3": "audio/mpeg",
	".m4a": "audio/mp4",
	".mp4": "audio/mp4",
	".ogg": "audio/ogg",
	".oga": "audio/ogg",
}

// mimeTypes maps decoder extensions to sorted, unique mime types.
func mimeTypes(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		mt, ok := extMimeTypes[ext]
		if !ok {
			mt = "audio/" + strings.TrimPrefix(ext, ".")
		}
		out = append(out, mt)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
