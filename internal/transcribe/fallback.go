package transcribe

import (
	"context"
	"fmt"

	"github.com/openscribe/openscribe/pkg/log"
)

// Fallback tries the primary engine and, when it errors, retries once against
// the secondary. There are no further retries; if both fail the combined
// error is returned.
type Fallback struct {
	primary   Engine
	secondary Engine
}

// NewFallback wraps primary with an optional secondary. A nil secondary
// degrades to the primary alone.
func NewFallback(primary, secondary Engine) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (f *Fallback) Name() string {
	if f.secondary == nil {
		return f.primary.Name()
	}
	return fmt.Sprintf("%s+%s", f.primary.Name(), f.secondary.Name())
}

func (f *Fallback) Transcribe(ctx context.Context, audio []byte, opts Options) (Result, error) {
	ret, err := f.primary.Transcribe(ctx, audio, opts)
	if err == nil {
		return ret, nil
	}
	if f.secondary == nil || ctx.Err() != nil {
		return Result{}, err
	}
	log.Warn("Provider %s failed to transcribe, falling back to %s: %v", f.primary.Name(), f.secondary.Name(), err)
	ret, ferr := f.secondary.Transcribe(ctx, audio, opts)
	if ferr != nil {
		return Result{}, fmt.Errorf("primary %s: %v; fallback %s: %w", f.primary.Name(), err, f.secondary.Name(), ferr)
	}
	return ret, nil
}

func (f *Fallback) Correct(ctx context.Context, text string) (string, error) {
	return f.textStep(ctx, "correct", text, Engine.Correct)
}

func (f *Fallback) IdentifySpeakers(ctx context.Context, text string) (string, error) {
	return f.textStep(ctx, "identify speakers", text, Engine.IdentifySpeakers)
}

func (f *Fallback) textStep(ctx context.Context, step, text string, call func(Engine, context.Context, string) (string, error)) (string, error) {
	ret, err := call(f.primary, ctx, text)
	if err == nil {
		return ret, nil
	}
	if f.secondary == nil || ctx.Err() != nil {
		return "", err
	}
	log.Warn("Provider %s failed to %s, falling back to %s: %v", f.primary.Name(), step, f.secondary.Name(), err)
	ret, ferr := call(f.secondary, ctx, text)
	if ferr != nil {
		return "", fmt.Errorf("primary %s: %v; fallback %s: %w", f.primary.Name(), err, f.secondary.Name(), ferr)
	}
	return ret, nil
}
