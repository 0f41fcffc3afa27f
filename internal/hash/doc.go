// Package hash provides CRC32-Castagnoli checksums for blob integrity.
//
// The S3 backend attaches a CRC32C checksum to every upload so the service
// rejects corrupted bodies, and enrollment bundles record one per entry so an
// import can detect a damaged archive before touching the store.
//
// One-shot:
//
//	checksum := hash.CRC32C(data)
//
// Streaming:
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	checksum := h.Sum32()
package hash
