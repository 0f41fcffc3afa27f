// Package catid recognizes individual cats across video frames.
//
// An Engine ties together the enrollment store (reference embeddings per
// user and device), the similarity matcher, per-stream track binding and the
// sync pipeline that pulls enrollment photos from remote storage.
//
// # Quick Start
//
//	eng, _ := catid.Open(blobstore.NewLocalStore("cat_db"), catid.WithThreshold(0.8))
//
//	// Enroll a cat from embeddings produced by the model.
//	eng.Register(ctx, "user-1", "RASPI_1a2b3c4d", "mochi", "Mochi", samples)
//
//	// Identify one embedding.
//	res, _ := eng.Identify(ctx, "user-1", "RASPI_1a2b3c4d", query)
//	if res.Matched {
//	    fmt.Println(res.CatUID, res.Score)
//	}
//
// # Video
//
// A Processor owns the identities of one camera stream. Feed it the tracker
// output of each frame; a track keeps the first identity it was given until
// it leaves the frame.
//
//	proc := eng.NewProcessor("user-1", deviceID, emb)
//	for frame := range frames {
//	    for _, l := range proc.ProcessFrame(ctx, frame.Image, frame.Tracks) {
//	        draw(l.Box, l.Text())
//	    }
//	}
//
// # Storage Layout
//
//	users/{user}/metadata.json
//	users/{user}/devices/{device}/metadata.json
//	<scope>/embeddings/{cat}_{hash}.npy
//	<scope>/training_images/{cat}_{hash}.{ext}
//
// A device scope with at least one enrolled embedding shadows the user-wide
// scope for that device; the two are never merged.
package catid
