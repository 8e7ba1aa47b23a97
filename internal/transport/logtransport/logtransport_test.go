package logtransport

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue-backend/internal/transport"
)

func TestTransport(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	tr := New(zerolog.New(&buf))

	ref, err := tr.Render(ctx, "-100:7", transport.Message{Text: "Occupied by @alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Contains(t, buf.String(), "Occupied by @alice")

	require.NoError(t, tr.Edit(ctx, ref, transport.Message{Text: "edited"}))
	require.NoError(t, tr.PurgeAuthored(ctx, "-100:7"))
	assert.True(t, transport.IsNotFound(tr.Edit(ctx, ref, transport.Message{})))
	assert.True(t, transport.IsNotFound(tr.Delete(ctx, ref)))

	require.NoError(t, tr.ApplyLabels(ctx, "-100:7", transport.LabelReady))
	labels, err := tr.Labels(ctx, "-100:7")
	require.NoError(t, err)
	assert.Equal(t, []transport.Label{transport.LabelReady}, labels)

	require.NoError(t, tr.ApplyLabels(ctx, "-100:7"))
	labels, err = tr.Labels(ctx, "-100:7")
	require.NoError(t, err)
	assert.Empty(t, labels)
}
