package checkpoint_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/checkpoint"
)

func TestMemoryStore_Len(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	assert.Zero(t, store.Len())
	for _, c := range []struct {
		thread string
		seq    int
	}{{"director-1", 1}, {"director-1", 2}, {"director-2", 1}} {
		require.NoError(t, store.Save(ctx, c.thread, c.seq, []byte("draft")))
	}
	assert.Equal(t, 3, store.Len())

	require.NoError(t, store.DeleteThread(ctx, "director-1"))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_ConcurrentThreads(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	const threads, steps = 8, 25
	var g errgroup.Group
	for i := range threads {
		thread := fmt.Sprintf("director-%d", i)
		g.Go(func() error {
			for seq := 1; seq <= steps; seq++ {
				if err := store.Save(ctx, thread, seq, []byte{byte(seq)}); err != nil {
					return err
				}
				if _, latest, err := store.Latest(ctx, thread); err != nil || latest != seq {
					return fmt.Errorf("%s: latest %d after saving %d: %v", thread, latest, seq, err)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, threads*steps, store.Len())
	infos, err := store.List(ctx, "director-3")
	require.NoError(t, err)
	assert.Len(t, infos, steps)
}
