package enrollment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/catid/blobstore"
	"github.com/hupe1980/catid/internal/fs"
	"github.com/hupe1980/catid/testutil"
)

func TestRegister_CommitFailureKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	ffs := fs.NewFaultyFS(nil)
	blobs := blobstore.NewLocalStore(t.TempDir(), blobstore.WithFileSystem(ffs))
	store := NewStore(blobs, WithDimension(testDim))
	rng := testutil.NewRNG(1)
	scope := UserScope("u1")

	_, err := store.Register(ctx, scope, "c1", "", []Sample{{Embedding: rng.UnitVector(testDim)}})
	require.NoError(t, err)
	before, err := blobstore.ReadAll(ctx, blobs, scope.MetadataPath())
	require.NoError(t, err)

	ffs.AddRule(MetadataFile, fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	_, err = store.Register(ctx, scope, "c2", "", []Sample{{Embedding: rng.UnitVector(testDim)}})

	var ioErr *StoreIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "commit", ioErr.Op)
	assert.ErrorIs(t, err, fs.ErrInjected)

	after, err := blobstore.ReadAll(ctx, blobs, scope.MetadataPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	bank, err := store.LookupBank(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, bank.CatUIDs())

	ffs.ClearRules()
	_, err = store.Register(ctx, scope, "c2", "", []Sample{{Embedding: rng.UnitVector(testDim)}})
	require.NoError(t, err)
	bank, err = store.LookupBank(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, bank.CatUIDs())
}
