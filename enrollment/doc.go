// Package enrollment stores per-user and per-device reference embeddings of
// enrolled cats and serves them as ordered matcher banks.
//
// # Layout
//
// A Store persists each scope under a blobstore.BlobStore:
//
//	users/{user}/metadata.json                      user-wide scope
//	users/{user}/devices/{device}/metadata.json     device scope
//	<scope>/embeddings/{cat}_{hash16}.npy
//	<scope>/training_images/{cat}_{hash16}.{ext}
//	<scope>/training_images/{cat}_profile.{ext}
//
// metadata.json maps cat UIDs to {"name", "embeddings", "training_images",
// "profile"}. Key order is preserved and defines bank order.
//
// # Consistency
//
// Register writes blobs first, then replaces metadata.json atomically, and
// only then publishes the new in-memory snapshot. Readers load snapshots
// from an atomic pointer and never block. Writers to one scope are
// serialized in-process, and across processes when the BlobStore implements
// blobstore.Locker. Each writer re-reads the document after acquiring the
// lock, so concurrent writers never lose each other's cats.
//
// Registration is idempotent: an embedding whose content hash is already
// present on the cat is skipped together with its training image.
package enrollment
