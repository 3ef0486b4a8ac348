package workflows

import (
	"context"
	"fmt"

	"devdocs-chat/services"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
)

// DurableProvider runs whole-response completions as DBOS workflows so a
// completion interrupted by a restart is recovered from its last step.
// Streaming calls go straight to the wrapped provider.
type DurableProvider struct {
	services.Provider
	dbosCtx dbos.DBOSContext
}

// NewDurableProvider wraps provider. CompleteWorkflow must be registered
// with dbosCtx before dbos.Launch.
func NewDurableProvider(dbosCtx dbos.DBOSContext, provider services.Provider) *DurableProvider {
	return &DurableProvider{Provider: provider, dbosCtx: dbosCtx}
}

// CompleteWorkflow is a durable workflow that performs one completion
func (d *DurableProvider) CompleteWorkflow(ctx dbos.DBOSContext, req services.CompletionRequest) (services.Completion, error) {
	return dbos.RunAsStep(ctx, func(stepCtx context.Context) (services.Completion, error) {
		return d.Provider.Complete(stepCtx, req)
	})
}

type completionResult struct {
	completion services.Completion
	err        error
}

// Complete starts CompleteWorkflow and waits for its result or ctx
func (d *DurableProvider) Complete(ctx context.Context, req services.CompletionRequest) (services.Completion, error) {
	handle, err := dbos.RunWorkflow(d.dbosCtx, d.CompleteWorkflow, req)
	if err != nil {
		return services.Completion{}, fmt.Errorf("%w: failed to start completion workflow: %v", services.ErrProviderUnavailable, err)
	}

	done := make(chan completionResult, 1)
	go func() {
		c, err := handle.GetResult()
		done <- completionResult{completion: c, err: err}
	}()

	select {
	case <-ctx.Done():
		return services.Completion{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return services.Completion{}, fmt.Errorf("%w: completion workflow failed: %v", services.ErrProviderUnavailable, r.err)
		}
		return r.completion, nil
	}
}

var _ services.Provider = (*DurableProvider)(nil)
