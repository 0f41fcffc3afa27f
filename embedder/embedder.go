package embedder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/hupe1980/catid/embedding"
)

// ErrUndecodable is returned for image bytes no registered decoder accepts.
// It matches embedding.ErrInvalid so callers can treat it as bad input.
var ErrUndecodable = fmt.Errorf("%w: undecodable image", embedding.ErrInvalid)

// Embedder computes the embedding of an image.
type Embedder interface {
	Embed(ctx context.Context, img image.Image) (embedding.Embedding, error)
}

// Func adapts a function to Embedder.
type Func func(ctx context.Context, img image.Image) (embedding.Embedding, error)

// Embed implements Embedder.
func (f Func) Embed(ctx context.Context, img image.Image) (embedding.Embedding, error) {
	return f(ctx, img)
}

// Decode decodes JPEG or PNG bytes.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUndecodable)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrUndecodable)
	}
	return img, nil
}

// EmbedBytes decodes data and embeds the result.
func EmbedBytes(ctx context.Context, e Embedder, data []byte) (embedding.Embedding, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, img)
}

// IsInputError reports whether err was caused by bad input rather than a
// failing model or transport.
func IsInputError(err error) bool {
	return errors.Is(err, embedding.ErrInvalid)
}

// RGB returns the pixels of img as packed 8-bit RGB rows.
func RGB(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out, byte(r>>8), byte(g>>8), byte(bl>>8))
		}
	}
	return out
}
