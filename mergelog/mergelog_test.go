package mergelog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestForLevelFiltersByLevel(t *testing.T) {
	l := NewMemLog()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, l.Append(ctx, Entry{Level: 4, Source: 2, Target: 5, OccurredAt: now}))
	require.NoError(t, l.Append(ctx, Entry{Level: 0, Source: 1, Target: 2, OccurredAt: now}))

	entries, err := l.ForLevel(ctx, 4)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 2, entries[0].Source)
	require.Equal(t, 5, entries[0].Target)
}
