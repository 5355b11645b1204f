// Package errmsg provides consistent error formatting for user-facing messages.
package errmsg

import "fmt"

// Op represents an operation that can fail.
type Op string

const (
	// Playback
	OpDecode      Op = "decode passage"
	OpOutput      Op = "start audio output"
	OpEnqueue     Op = "enqueue passage"
	OpSeek        Op = "seek"
	OpSkip        Op = "skip passage"
	OpTimeline    Op = "load song timeline"
	OpMediaServer Op = "start media controls"
	OpNotify      Op = "send notification"

	// Storage
	OpSettingsLoad Op = "load settings"
	OpSettingsSave Op = "save setting"
	OpTimelineSave Op = "save song timeline"

	// Tuning
	OpTune Op = "tune output buffer"
)

// Format creates a user-friendly error message.
func Format(op Op, err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Failed to %s: %v", op, err)
}

// FormatWith creates an error message naming the item the operation was
// applied to, usually a file name.
func FormatWith(op Op, subject string, err error) string {
	if err == nil {
		return ""
	}
	if subject == "" {
		return Format(op, err)
	}
	return fmt.Sprintf("Failed to %s '%s': %v", op, subject, err)
}
