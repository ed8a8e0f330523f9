package session

import (
	"context"
	"errors"
	"time"
)

// State is the conversation position for one chat identity.
type State string

const (
	StateWaiting                  State = "waiting"
	StateUploadingMerge           State = "uploading_merge"
	StateUploadingRename          State = "uploading_rename"
	StateUploadingWatermark       State = "uploading_watermark"
	StateWaitingFilename          State = "waiting_filename"
	StateWaitingWatermarkText     State = "waiting_watermark_text"
	StateWaitingWatermarkPosition State = "waiting_watermark_position"
	StateWaitingWatermarkOpacity  State = "waiting_watermark_opacity"
)

// NormalizeState maps anything unrecognized (e.g. a stale tag read back
// from persistent storage) to StateWaiting.
func NormalizeState(s State) State {
	switch s {
	case StateWaiting, StateUploadingMerge, StateUploadingRename, StateUploadingWatermark,
		StateWaitingFilename, StateWaitingWatermarkText, StateWaitingWatermarkPosition,
		StateWaitingWatermarkOpacity:
		return s
	default:
		return StateWaiting
	}
}

// ErrNotFound is returned when a session was never created or has
// expired.
var ErrNotFound = errors.New("session not found")

// Data accumulates operation parameters across turns.
type Data struct {
	Files          []string `json:"files,omitempty"`
	FilePath       string   `json:"file_path,omitempty"`
	WatermarkText  string   `json:"watermark_text,omitempty"`
	Position       string   `json:"position,omitempty"`
	Opacity        float64  `json:"opacity,omitempty"`
	TargetFilename string   `json:"target_filename,omitempty"`
}

// DataPatch is a shallow merge: nil fields leave the session value
// alone, set fields replace it (last writer wins per key).
type DataPatch struct {
	Files          *[]string
	FilePath       *string
	WatermarkText  *string
	Position       *string
	Opacity        *float64
	TargetFilename *string
}

// Apply merges p into d.
func (d *Data) Apply(p *DataPatch) {
	if p == nil {
		return
	}
	if p.Files != nil {
		d.Files = append([]string(nil), (*p.Files)...)
	}
	if p.FilePath != nil {
		d.FilePath = *p.FilePath
	}
	if p.WatermarkText != nil {
		d.WatermarkText = *p.WatermarkText
	}
	if p.Position != nil {
		d.Position = *p.Position
	}
	if p.Opacity != nil {
		d.Opacity = *p.Opacity
	}
	if p.TargetFilename != nil {
		d.TargetFilename = *p.TargetFilename
	}
}

func (d Data) clone() Data {
	out := d
	out.Files = append([]string(nil), d.Files...)
	return out
}

// Session is the state record for one conversation identity.
type Session struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Data      Data      `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is a keyed, expiring state container. Operations on a single id
// are linearizable with respect to each other; implementations must not
// lose a concurrent upsert's merge under interleaving.
type Store interface {
	// Get returns the session for id, or ErrNotFound if it was never
	// created or has passed its expiry. An expired session is removed
	// and never resurrected.
	Get(ctx context.Context, id string) (*Session, error)

	// Upsert creates the session if absent. If stateOverride is set the
	// state is replaced; patch is shallow-merged into the data. The
	// update timestamp and expiry are always refreshed.
	Upsert(ctx context.Context, id string, stateOverride *State, patch *DataPatch) (*Session, error)

	// Delete removes the session and all its data. Idempotent.
	Delete(ctx context.Context, id string) error

	// SweepExpired removes every session past its expiry and reports
	// how many were removed. Safe to call concurrently with Get.
	SweepExpired(ctx context.Context) (int, error)

	// Count reports the number of live sessions.
	Count(ctx context.Context) (int, error)
}

// StateRef builds a state override inline.
func StateRef(s State) *State { return &s }
