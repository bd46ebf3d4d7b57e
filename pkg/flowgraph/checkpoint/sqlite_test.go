package checkpoint_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/checkpoint"
)

// A thread parked before human review must be resumable by the next
// process that opens the same file.
func TestSQLiteStore_ParkedThreadSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	parked, err := checkpoint.New("director-1", "reflector", 3, []byte(`{"draft":"v2","score":72}`), "human_review").
		WithSource(checkpoint.SourceInterrupt).
		WithPending(true).
		Marshal()
	require.NoError(t, err)

	first, err := checkpoint.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, "director-1", 3, parked))
	require.NoError(t, first.Close())

	second, err := checkpoint.NewSQLiteStore(path)
	require.NoError(t, err)
	defer second.Close()

	data, seq, err := second.Latest(ctx, "director-1")
	require.NoError(t, err)
	assert.Equal(t, 3, seq)

	cp, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"human_review"}, cp.Next())

	assert.ErrorIs(t, second.Save(ctx, "director-1", 3, parked), checkpoint.ErrSequenceConflict)
}

func TestSQLiteStore_Open(t *testing.T) {
	_, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "missing", "dir", "db.sqlite"))
	assert.Error(t, err)

	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.NoError(t, store.Close(), "second close is a no-op")
	assert.ErrorIs(t, store.Save(context.Background(), "t", 1, []byte("x")), checkpoint.ErrStoreClosed)
}
