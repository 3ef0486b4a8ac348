package workflows

import (
	"context"
	"os"
	"testing"
	"time"

	"devdocs-chat/services"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a Postgres instance for DBOS system tables.
func TestDurableProvider_Complete(t *testing.T) {
	dbURL := os.Getenv("DBOS_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("DBOS_TEST_DATABASE_URL not set")
	}

	dbosCtx, err := dbos.NewDBOSContext(context.Background(), dbos.Config{
		DatabaseURL: dbURL,
		AppName:     "devdocs-chat-test",
	})
	require.NoError(t, err)

	inner, err := services.NewDummyProvider("msg:durable|reply,err:quota", true)
	require.NoError(t, err)
	durable := NewDurableProvider(dbosCtx, inner)
	dbos.RegisterWorkflow(dbosCtx, durable.CompleteWorkflow)

	require.NoError(t, dbos.Launch(dbosCtx))
	defer dbos.Shutdown(dbosCtx, 5*time.Second)

	out, err := durable.Complete(context.Background(), services.CompletionRequest{MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "durablereply", out.Content)

	_, err = durable.Complete(context.Background(), services.CompletionRequest{MaxTokens: 10})
	assert.ErrorIs(t, err, services.ErrProviderUnavailable)

	assert.True(t, durable.SupportsStreaming(), "streaming capability comes from the wrapped provider")
}
