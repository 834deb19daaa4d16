// Package wat defines the reaction-image record shared by the catalog, the
// tag index, and the matcher.
package wat

import "time"

// WAT is a single reaction image. ID is an opaque handle into the blob store
// (for a chat transport, typically the platform's file id). FileIDs holds the
// size variants of the same image ordered smallest first, so a transport can
// pick the smallest for inline results and the largest for direct replies.
//
// Tags are stored normalized (lowercase, split on non-alphanumeric
// boundaries, deduplicated). A WAT is immutable once indexed; tag replacement
// produces a new record.
type WAT struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	FileIDs []string  `json:"file_ids"`
	Tags    []string  `json:"tags"`
	AddedAt time.Time `json:"added_at"`
}

// LargestFileID returns the file id the transport should use for a direct
// command reply, or the record id when no size variants were recorded.
func (w *WAT) LargestFileID() string {
	if len(w.FileIDs) == 0 {
		return w.ID
	}
	return w.FileIDs[len(w.FileIDs)-1]
}

// SmallestFileID returns the file id for inline result thumbnails.
func (w *WAT) SmallestFileID() string {
	if len(w.FileIDs) == 0 {
		return w.ID
	}
	return w.FileIDs[0]
}
