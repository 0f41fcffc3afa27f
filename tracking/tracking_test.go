package tracking

import (
	"context"
	"image"
	"image/color"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/catid/binder"
	"github.com/hupe1980/catid/embedder"
	"github.com/hupe1980/catid/embedding"
	"github.com/hupe1980/catid/matcher"
)

// frame paints the left half red and the right half green.
func frame() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 100; x++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= 50 {
				c = color.RGBA{G: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func setup(t *testing.T) (*Processor, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	emb := embedder.Func(func(_ context.Context, img image.Image) (embedding.Embedding, error) {
		calls.Add(1)
		b := img.Bounds()
		r, g, _, _ := img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).RGBA()
		return embedding.Embedding{float32(r), float32(g), 1}, nil
	})

	bank := matcher.Bank{
		{CatUID: "red-cat", Embeddings: []embedding.Embedding{{65535, 0, 1}}},
	}
	m, err := matcher.New(matcher.DefaultThreshold)
	require.NoError(t, err)
	return NewProcessor(binder.New(m, binder.StaticBank(bank)), emb), &calls
}

func TestProcessFrame(t *testing.T) {
	p, calls := setup(t)
	ctx := context.Background()
	f := frame()

	labels := p.ProcessFrame(ctx, f, []Track{
		{ID: 1, Box: image.Rect(10, 10, 40, 40)},
		{ID: 2, Box: image.Rect(60, 10, 90, 40)},
		{ID: 3, Box: image.Rect(200, 200, 250, 250)}, // outside
	})
	require.Len(t, labels, 2)
	assert.Equal(t, "red-cat", labels[0].Text())
	assert.True(t, labels[0].Known)
	assert.InDelta(t, 1.0, labels[0].Score, 1e-6)
	assert.Equal(t, "unknown", labels[1].Text())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, p.Binder().Len())

	// Same tracks next frame: identities are locked, no new embeddings.
	labels = p.ProcessFrame(ctx, f, []Track{
		{ID: 1, Box: image.Rect(55, 10, 95, 40)}, // moved onto green
		{ID: 2, Box: image.Rect(60, 10, 90, 40)},
	})
	require.Len(t, labels, 2)
	assert.Equal(t, "red-cat", labels[0].Text())
	assert.Equal(t, int32(2), calls.Load())

	// Track 2 disappears and is reaped.
	p.ProcessFrame(ctx, f, []Track{{ID: 1, Box: image.Rect(10, 10, 40, 40)}})
	_, ok := p.Binder().Lookup(2)
	assert.False(t, ok)
	assert.Equal(t, 1, p.Binder().Len())
}

func TestProcessFrame_ClipsBoxes(t *testing.T) {
	p, _ := setup(t)
	labels := p.ProcessFrame(context.Background(), frame(), []Track{
		{ID: 7, Box: image.Rect(-20, -20, 30, 30)},
	})
	require.Len(t, labels, 1)
	assert.Equal(t, image.Rect(0, 0, 30, 30), labels[0].Box)
	assert.Equal(t, "red-cat", labels[0].Text())
}

func TestCrop(t *testing.T) {
	f := frame()
	c := Crop(f, image.Rect(45, 0, 55, 10))
	assert.Equal(t, 10, c.Bounds().Dx())

	r, _, _, _ := c.At(46, 5).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	_, g, _, _ := c.At(52, 5).RGBA()
	assert.Equal(t, uint32(0xffff), g)
}
