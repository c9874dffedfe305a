package governance

import "context"

// Recorder appends entries to the activity log. Callers treat a failed
// write as non-fatal: the primary operation has already been applied.
type Recorder interface {
	Record(ctx context.Context, a *Activity) error
}

// NopRecorder discards every entry.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, *Activity) error { return nil }
