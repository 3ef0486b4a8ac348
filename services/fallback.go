package services

import (
	"context"
	"log"
)

// FallbackProvider retries on a secondary provider when the primary fails
// before producing any output. A stream that already delivered text is never
// replayed on the secondary.
type FallbackProvider struct {
	primary   Provider
	secondary Provider
}

func NewFallbackProvider(primary, secondary Provider) *FallbackProvider {
	return &FallbackProvider{primary: primary, secondary: secondary}
}

func (f *FallbackProvider) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

func (f *FallbackProvider) SupportsStreaming() bool {
	return f.primary.SupportsStreaming() && f.secondary.SupportsStreaming()
}

func (f *FallbackProvider) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	out, err := f.primary.Complete(ctx, req)
	if err == nil || ctx.Err() != nil {
		return out, err
	}
	log.Printf("Provider %s failed, falling back to %s: %v", f.primary.Name(), f.secondary.Name(), err)
	// The secondary serves its own configured model.
	req.Model = ""
	return f.secondary.Complete(ctx, req)
}

func (f *FallbackProvider) Stream(ctx context.Context, req CompletionRequest, onDelta DeltaFunc) error {
	delivered := false
	err := f.primary.Stream(ctx, req, func(fragment string) error {
		delivered = true
		return onDelta(fragment)
	})
	if err == nil || delivered || ctx.Err() != nil {
		return err
	}
	log.Printf("Provider %s failed before streaming, falling back to %s: %v", f.primary.Name(), f.secondary.Name(), err)
	req.Model = ""
	return f.secondary.Stream(ctx, req, onDelta)
}

var _ Provider = (*FallbackProvider)(nil)
