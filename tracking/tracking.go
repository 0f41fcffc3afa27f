// Package tracking turns tracker output into labelled identities, one frame
// at a time.
package tracking

import (
	"context"
	"image"
	"image/draw"

	"github.com/hupe1980/catid/binder"
	"github.com/hupe1980/catid/embedder"
	"github.com/hupe1980/catid/embedding"
)

// Track is one confirmed tracker box in a frame.
type Track struct {
	ID         binder.TrackID
	Box        image.Rectangle
	Confidence float64
}

// Label is the identity drawn for a track.
type Label struct {
	TrackID binder.TrackID
	Box     image.Rectangle
	CatUID  string
	Known   bool
	Score   float64
}

// Text returns the cat uid, or "unknown".
func (l Label) Text() string {
	if !l.Known {
		return "unknown"
	}
	return l.CatUID
}

// Processor labels the tracks of one camera stream. It owns the stream's
// binder; use one Processor per stream. ProcessFrame must not be called
// concurrently for the same stream.
type Processor struct {
	binder   *binder.Binder
	embedder embedder.Embedder
}

// NewProcessor returns a Processor resolving tracks with b and embedding
// crops with e.
func NewProcessor(b *binder.Binder, e embedder.Embedder) *Processor {
	return &Processor{binder: b, embedder: e}
}

// Binder returns the processor's binder.
func (p *Processor) Binder() *binder.Binder { return p.binder }

// ProcessFrame labels tracks found in frame. Boxes are clipped to the frame
// and empty crops are skipped. Tracks absent from this frame are forgotten
// afterwards.
func (p *Processor) ProcessFrame(ctx context.Context, frame image.Image, tracks []Track) []Label {
	bounds := frame.Bounds()
	labels := make([]Label, 0, len(tracks))
	active := make([]binder.TrackID, 0, len(tracks))

	for _, t := range tracks {
		active = append(active, t.ID)

		box := t.Box.Intersect(bounds)
		if box.Empty() {
			continue
		}
		d := p.binder.Resolve(ctx, t.ID, func(ctx context.Context) (embedding.Embedding, error) {
			return p.embedder.Embed(ctx, Crop(frame, box))
		})
		labels = append(labels, Label{
			TrackID: t.ID,
			Box:     box,
			CatUID:  d.CatUID,
			Known:   d.Matched,
			Score:   d.Score,
		})
	}

	p.binder.Reap(active)
	return labels
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the part of img inside r. The result shares pixels with img
// when the image type supports it.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
