// Package transcribe wraps the external speech-to-text and LLM
// post-processing providers behind a single fallible capability.
package transcribe

import "context"

// Options tunes a single transcription call.
type Options struct {
	// Language is an optional ISO 639-1 hint for the speech model.
	Language string
	// FileName is forwarded so providers can infer the container format.
	FileName string
}

// Result is the raw output of a speech-to-text call.
type Result struct {
	Text     string
	Language string
	Provider string
}

// Engine is the external AI collaborator: speech-to-text plus the two
// LLM-driven post-processing steps. Implementations may suspend on network
// I/O; all calls honor ctx cancellation.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, opts Options) (Result, error)
	Correct(ctx context.Context, text string) (string, error)
	IdentifySpeakers(ctx context.Context, text string) (string, error)
}
