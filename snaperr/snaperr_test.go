package snaperr

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEFormatsMessage(t *testing.T) {
	err := E(Input, "unknown contig", "chr99")
	require.EqualError(t, err, "InputError: unknown contig chr99")
}

func TestEWrapsUnderlying(t *testing.T) {
	underlying := errors.New("connection reset")
	err := E(Store, underlying, "commit failed")
	require.Contains(t, err.Error(), "StoreError")
	require.Contains(t, err.Error(), "commit failed")
	require.Contains(t, err.Error(), "connection reset")
	require.Equal(t, Store, KindOf(err))
}

func TestIs(t *testing.T) {
	err := E(StatisticalReject, "z-score below threshold")
	require.True(t, Is(StatisticalReject, err))
	require.False(t, Is(Integrity, err))
}

func TestKindOfUntaggedError(t *testing.T) {
	require.Equal(t, Other, KindOf(errors.New("plain")))
	require.Equal(t, Other, KindOf(nil))
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 1, ExitCode(E(Input, "bad")))
	require.Equal(t, 1, ExitCode(E(StatisticalReject, "rejected")))
	require.Equal(t, 2, ExitCode(E(Store, "unavailable")))
	require.Equal(t, 2, ExitCode(errors.New("plain")))
}

func TestOnceKeepsFirstError(t *testing.T) {
	var once Once
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			once.Set(E(Store, "failure", i))
		}(i)
	}
	wg.Wait()
	require.Error(t, once.Err())
}

func TestOnceIgnoresNil(t *testing.T) {
	var once Once
	once.Set(nil)
	require.NoError(t, once.Err())
}
