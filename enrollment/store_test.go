package enrollment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/hupe1980/catid/blobstore"
	"github.com/hupe1980/catid/codec"
	"github.com/hupe1980/catid/embedding"
	"github.com/hupe1980/catid/testutil"
)

const testDim = 8

// StoreSuite runs the store lifecycle against one blob backend.
type StoreSuite struct {
	suite.Suite
	newBlobs func() blobstore.BlobStore

	ctx   context.Context
	blobs blobstore.BlobStore
	store *Store
	rng   *testutil.RNG
}

func TestStoreSuite_Memory(t *testing.T) {
	suite.Run(t, &StoreSuite{newBlobs: func() blobstore.BlobStore { return blobstore.NewMemoryStore() }})
}

func TestStoreSuite_Local(t *testing.T) {
	s := &StoreSuite{}
	s.newBlobs = func() blobstore.BlobStore { return blobstore.NewLocalStore(s.T().TempDir()) }
	suite.Run(t, s)
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.blobs = s.newBlobs()
	s.store = NewStore(s.blobs, WithDimension(testDim))
	s.rng = testutil.NewRNG(42)
}

func (s *StoreSuite) samples(n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = Sample{Embedding: s.rng.UnitVector(testDim)}
	}
	return out
}

func (s *StoreSuite) metadata(scope Scope) string {
	data, err := blobstore.ReadAll(s.ctx, s.blobs, scope.MetadataPath())
	s.Require().NoError(err)
	return string(data)
}

func (s *StoreSuite) TestRegister_CreatesCat() {
	scope := DeviceScope("u1", "RASPI_0001")
	samples := s.samples(2)
	samples[0].Image = []byte("jpeg-bytes-1")
	samples[1].Image = []byte("jpeg-bytes-2")
	samples[1].ImageExt = ".PNG"

	res, err := s.store.Register(s.ctx, scope, "c1", "", samples)
	s.Require().NoError(err)
	s.Equal(RegisterResult{Added: 2}, res)

	cat, err := s.store.Cat(s.ctx, scope, "c1")
	s.Require().NoError(err)
	s.Equal("c1", cat.Name, "name defaults to the uid")
	s.Len(cat.Embeddings, 2)
	s.Len(cat.TrainingImages, 2)
	s.Equal("training_images/c1_profile.jpg", cat.Profile)
	s.True(embedding.Equal(samples[0].Embedding, cat.Embeddings[0].Embedding))
	s.Regexp(`^embeddings/c1_[0-9a-f]{16}\.npy$`, cat.Embeddings[0].Locator)
	s.Regexp(`^training_images/c1_[0-9a-f]{16}\.png$`, cat.TrainingImages[1])

	names, err := s.blobs.List(s.ctx, scope.Dir()+"/")
	s.Require().NoError(err)
	s.Contains(names, "users/u1/devices/RASPI_0001/metadata.json")
	s.Contains(names, "users/u1/devices/RASPI_0001/training_images/c1_profile.jpg")
	s.Contains(names, "users/u1/devices/RASPI_0001/"+cat.Embeddings[1].Locator)
}

func (s *StoreSuite) TestRegister_Idempotent() {
	scope := UserScope("u1")
	samples := s.samples(3)
	samples[0].Image = []byte("img")

	_, err := s.store.Register(s.ctx, scope, "c1", "Mochi", samples)
	s.Require().NoError(err)
	before := s.metadata(scope)

	res, err := s.store.Register(s.ctx, scope, "c1", "Mochi", samples)
	s.Require().NoError(err)
	s.Equal(RegisterResult{Added: 0, Duplicates: 3}, res)
	s.Equal(before, s.metadata(scope))

	cat, err := s.store.Cat(s.ctx, scope, "c1")
	s.Require().NoError(err)
	s.Len(cat.Embeddings, 3)
	s.Len(cat.TrainingImages, 1)
}

func (s *StoreSuite) TestRegister_DuplicateWithinBatch() {
	v := s.rng.UnitVector(testDim)
	res, err := s.store.Register(s.ctx, UserScope("u1"), "c1", "", []Sample{
		{Embedding: v},
		{Embedding: v.Clone(), Image: []byte("skipped too")},
	})
	s.Require().NoError(err)
	s.Equal(RegisterResult{Added: 1, Duplicates: 1}, res)

	cat, err := s.store.Cat(s.ctx, UserScope("u1"), "c1")
	s.Require().NoError(err)
	s.Empty(cat.TrainingImages)
}

func (s *StoreSuite) TestRegister_NameUpdate() {
	scope := UserScope("u1")
	_, err := s.store.Register(s.ctx, scope, "c1", "Mochi", s.samples(1))
	s.Require().NoError(err)

	_, err = s.store.Register(s.ctx, scope, "c1", "", s.samples(1))
	s.Require().NoError(err)
	cat, _ := s.store.Cat(s.ctx, scope, "c1")
	s.Equal("Mochi", cat.Name, "empty name keeps the stored one")

	_, err = s.store.Register(s.ctx, scope, "c1", "Mochi II", nil)
	s.Require().NoError(err)
	cat, _ = s.store.Cat(s.ctx, scope, "c1")
	s.Equal("Mochi II", cat.Name)
	s.Len(cat.Embeddings, 2)
}

func (s *StoreSuite) TestRegister_EmptyCatIsNotMatchable() {
	_, err := s.store.Register(s.ctx, UserScope("u1"), "c1", "", nil)
	s.Require().NoError(err)

	cat, err := s.store.Cat(s.ctx, UserScope("u1"), "c1")
	s.Require().NoError(err)
	s.False(cat.Matchable())

	_, err = s.store.LookupBank(s.ctx, "u1", "")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestRegister_InvalidInput() {
	scope := UserScope("u1")

	_, err := s.store.Register(s.ctx, scope, "", "", s.samples(1))
	s.ErrorIs(err, ErrInvalidArgument)

	_, err = s.store.Register(s.ctx, scope, "../c1", "", s.samples(1))
	s.ErrorIs(err, ErrInvalidArgument)

	_, err = s.store.Register(s.ctx, Scope{UserID: "u1", DeviceID: "a/b"}, "c1", "", s.samples(1))
	s.ErrorIs(err, ErrInvalidArgument)

	var dm *embedding.ErrDimensionMismatch
	_, err = s.store.Register(s.ctx, scope, "c1", "", []Sample{{Embedding: s.rng.UnitVector(testDim + 1)}})
	s.ErrorAs(err, &dm)
	s.ErrorIs(err, embedding.ErrInvalid)

	_, err = s.store.Register(s.ctx, scope, "c1", "", []Sample{{Embedding: make(embedding.Embedding, testDim)}})
	s.ErrorIs(err, embedding.ErrZeroMagnitude)

	// Nothing was written.
	_, err = s.store.Cats(s.ctx, scope)
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestRegister_InferredDimensionIgnoresRejectedInput() {
	store := NewStore(s.blobs, WithDimension(0))
	scope := UserScope("u1")

	_, err := store.Register(s.ctx, scope, "c1", "", []Sample{{Embedding: embedding.Embedding{0, 0, 0}}})
	s.ErrorIs(err, embedding.ErrZeroMagnitude)
	s.Equal(0, store.Dimension())

	// A batch with one bad sample fixes nothing either.
	_, err = store.Register(s.ctx, scope, "c1", "", []Sample{
		{Embedding: embedding.Embedding{1, 0, 0}},
		{Embedding: embedding.Embedding{1, 0}},
	})
	var dm *embedding.ErrDimensionMismatch
	s.ErrorAs(err, &dm)
	s.Equal(0, store.Dimension())

	res, err := store.Register(s.ctx, scope, "c1", "", []Sample{{Embedding: embedding.Embedding{1, 0, 0, 0}}})
	s.Require().NoError(err)
	s.Equal(1, res.Added)
	s.Equal(4, store.Dimension())

	_, err = store.Register(s.ctx, scope, "c1", "", []Sample{{Embedding: embedding.Embedding{1, 0, 0}}})
	s.ErrorAs(err, &dm)
}

func (s *StoreSuite) TestLookupBank_EntriesArePrivate() {
	_, err := s.store.Register(s.ctx, UserScope("u1"), "c1", "", s.samples(2))
	s.Require().NoError(err)

	bank, err := s.store.LookupBank(s.ctx, "u1", "")
	s.Require().NoError(err)
	bank[0].CatUID = "changed"
	bank[0].Embeddings = append(bank[0].Embeddings[:0], s.rng.UnitVector(testDim))

	again, err := s.store.LookupBank(s.ctx, "u1", "")
	s.Require().NoError(err)
	s.Equal("c1", again[0].CatUID)
	s.Len(again[0].Embeddings, 2)
	s.NotEqual(bank[0].Embeddings[0], again[0].Embeddings[0])
}

func (s *StoreSuite) TestLookupBank_DevicePrecedence() {
	_, err := s.store.Register(s.ctx, UserScope("u1"), "user-cat", "", s.samples(2))
	s.Require().NoError(err)

	// No device document: the user scope serves.
	bank, err := s.store.LookupBank(s.ctx, "u1", "dev1")
	s.Require().NoError(err)
	s.Equal([]string{"user-cat"}, bank.CatUIDs())

	// A device scope without matchable cats does not shadow.
	_, err = s.store.Register(s.ctx, DeviceScope("u1", "dev1"), "empty", "", nil)
	s.Require().NoError(err)
	bank, err = s.store.LookupBank(s.ctx, "u1", "dev1")
	s.Require().NoError(err)
	s.Equal([]string{"user-cat"}, bank.CatUIDs())

	// Once matchable, the device scope is used exclusively.
	_, err = s.store.Register(s.ctx, DeviceScope("u1", "dev1"), "dev-cat", "", s.samples(1))
	s.Require().NoError(err)
	bank, err = s.store.LookupBank(s.ctx, "u1", "dev1")
	s.Require().NoError(err)
	s.Equal([]string{"empty", "dev-cat"}, bank.CatUIDs())

	// Other devices still see the user scope.
	bank, err = s.store.LookupBank(s.ctx, "u1", "dev2")
	s.Require().NoError(err)
	s.Equal([]string{"user-cat"}, bank.CatUIDs())

	_, err = s.store.LookupBank(s.ctx, "nobody", "dev1")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestPersistence_OrderSurvivesReopen() {
	scope := UserScope("u1")
	for _, uid := range []string{"zeta", "alpha", "mid"} {
		_, err := s.store.Register(s.ctx, scope, uid, "", s.samples(1))
		s.Require().NoError(err)
	}

	reopened := NewStore(s.blobs)
	cats, err := reopened.Cats(s.ctx, scope)
	s.Require().NoError(err)
	s.Require().Len(cats, 3)
	s.Equal("zeta", cats[0].UID)
	s.Equal("alpha", cats[1].UID)
	s.Equal("mid", cats[2].UID)
	s.Equal(testDim, reopened.Dimension(), "dimension inferred from stored embeddings")

	bank, err := reopened.LookupBank(s.ctx, "u1", "")
	s.Require().NoError(err)
	s.Equal([]string{"zeta", "alpha", "mid"}, bank.CatUIDs())
}

func (s *StoreSuite) TestAddImagesAndSetProfile() {
	scope := UserScope("u1")

	_, err := s.store.AddImages(s.ctx, scope, "c1", [][]byte{[]byte("a")}, "jpg")
	s.ErrorIs(err, ErrNotFound)

	_, err = s.store.Register(s.ctx, scope, "c1", "", s.samples(1))
	s.Require().NoError(err)

	n, err := s.store.AddImages(s.ctx, scope, "c1", [][]byte{[]byte("a"), []byte("b"), []byte("a")}, "jpg")
	s.Require().NoError(err)
	s.Equal(2, n)

	s.Require().NoError(s.store.SetProfile(s.ctx, scope, "c1", []byte("face"), "png"))
	cat, err := s.store.Cat(s.ctx, scope, "c1")
	s.Require().NoError(err)
	s.Equal("training_images/c1_profile.png", cat.Profile)
	s.Len(cat.TrainingImages, 3)
	s.Contains(cat.TrainingImages, cat.Profile)

	data, err := blobstore.ReadAll(s.ctx, s.blobs, "users/u1/training_images/c1_profile.png")
	s.Require().NoError(err)
	s.Equal("face", string(data))

	s.ErrorIs(s.store.SetProfile(s.ctx, scope, "nope", []byte("x"), "png"), ErrNotFound)
}

func (s *StoreSuite) TestConcurrentWritersAndReaders() {
	scope := DeviceScope("u1", "dev1")
	const writers = 8

	// Seed one cat so readers always find a bank.
	_, err := s.store.Register(s.ctx, scope, "seed", "", s.samples(1))
	s.Require().NoError(err)

	samples := make([][]Sample, writers)
	for i := range samples {
		samples[i] = s.samples(2)
	}

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := s.store.Register(s.ctx, scope, fmt.Sprintf("cat-%d", i), "", samples[i])
			s.NoError(err)
		}(i)
		go func() {
			defer wg.Done()
			bank, err := s.store.LookupBank(s.ctx, "u1", "dev1")
			if s.NoError(err) {
				s.True(bank.Matchable())
			}
		}()
	}
	wg.Wait()

	cats, err := NewStore(s.blobs).Cats(s.ctx, scope)
	s.Require().NoError(err)
	s.Len(cats, writers+1)
	for _, c := range cats {
		if c.UID != "seed" {
			s.Len(c.Embeddings, 2, c.UID)
		}
	}
}

func (s *StoreSuite) TestIndependentStoresDoNotLoseWrites() {
	// Two stores over the same blobs behave like two processes.
	other := NewStore(s.blobs)
	scope := UserScope("u1")

	_, err := s.store.LookupBank(s.ctx, "u1", "")
	s.ErrorIs(err, ErrNotFound) // caches an empty snapshot

	_, err = other.Register(s.ctx, scope, "from-other", "", s.samples(1))
	s.Require().NoError(err)
	_, err = s.store.Register(s.ctx, scope, "from-self", "", s.samples(1))
	s.Require().NoError(err)

	cats, err := other.Cats(s.ctx, scope)
	s.Require().NoError(err)
	s.Len(cats, 1, "other still serves its snapshot until reloaded")

	other.Reload(scope)
	cats, err = other.Cats(s.ctx, scope)
	s.Require().NoError(err)
	s.Len(cats, 2)
}

func (s *StoreSuite) TestRefreshInterval() {
	reader := NewStore(s.blobs, WithRefreshInterval(time.Nanosecond))
	_, err := reader.LookupBank(s.ctx, "u1", "")
	s.ErrorIs(err, ErrNotFound)

	_, err = s.store.Register(s.ctx, UserScope("u1"), "c1", "", s.samples(1))
	s.Require().NoError(err)

	time.Sleep(time.Millisecond)
	bank, err := reader.LookupBank(s.ctx, "u1", "")
	s.Require().NoError(err)
	s.Equal([]string{"c1"}, bank.CatUIDs())
}

func (s *StoreSuite) TestLegacyDocument() {
	rng := testutil.NewRNG(7)
	v1, v2, v3 := rng.UnitVector(testDim), rng.UnitVector(testDim), rng.UnitVector(testDim)

	put := func(name string, data []byte) {
		s.Require().NoError(s.blobs.Put(s.ctx, name, data))
	}
	put("users/u1/embeddings/old_1.npy", codec.EncodeNPY(v1))
	put("old_2.npy", codec.EncodeNPY(v2)) // root-relative, as older tools wrote
	put("users/u1/embeddings/b_1.npy", codec.EncodeNPY(v3))
	put("users/u1/metadata.json", []byte(`{
  "old": ["embeddings/old_1.npy", "old_2.npy", "embeddings/missing.npy"],
  "b": {"embeddings": ["embeddings\\b_1.npy"], "images": ["images/b/x.jpg"], "profile": null}
}`))

	cats, err := s.store.Cats(s.ctx, UserScope("u1"))
	s.Require().NoError(err)
	s.Require().Len(cats, 2)

	s.Equal("old", cats[0].Name)
	s.Len(cats[0].Embeddings, 2, "missing blob is skipped")
	s.Equal("b", cats[1].Name)
	s.Equal([]string{"images/b/x.jpg"}, cats[1].TrainingImages)
	s.Len(cats[1].Embeddings, 1)

	// A write keeps every locator, readable or not, and normalizes the shape.
	_, err = s.store.Register(s.ctx, UserScope("u1"), "new", "", s.samples(1))
	s.Require().NoError(err)
	meta := s.metadata(UserScope("u1"))
	s.Contains(meta, `embeddings/missing.npy`)
	s.Contains(meta, `"training_images"`)
	s.NotContains(meta, `"images"`)
}

func (s *StoreSuite) TestCorruptDocument() {
	s.Require().NoError(s.blobs.Put(s.ctx, "users/u1/metadata.json", []byte(`{"c1": 42}`)))

	_, err := s.store.Cats(s.ctx, UserScope("u1"))
	var ioErr *StoreIOError
	s.Require().ErrorAs(err, &ioErr)
	s.Equal("decode", ioErr.Op)

	_, err = s.store.Register(s.ctx, UserScope("u1"), "c2", "", s.samples(1))
	s.ErrorAs(err, &ioErr)
}

func TestScope(t *testing.T) {
	cases := []struct {
		scope Scope
		dir   string
	}{
		{UserScope("u1"), "users/u1"},
		{DeviceScope("u1", "RASPI_1"), "users/u1/devices/RASPI_1"},
	}
	for _, c := range cases {
		if got := c.scope.Dir(); got != c.dir {
			t.Errorf("%v: Dir() = %q, want %q", c.scope, got, c.dir)
		}
		if got := c.scope.MetadataPath(); got != c.dir+"/metadata.json" {
			t.Errorf("%v: MetadataPath() = %q", c.scope, got)
		}
	}

	for _, bad := range []Scope{{}, {UserID: ".."}, {UserID: "u", DeviceID: "a\\b"}} {
		if err := bad.Validate(); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%v: Validate() = %v, want ErrInvalidArgument", bad, err)
		}
	}
}
