// Package bundle exports an enrollment scope to a single compressed archive
// and imports it back, possibly into another store or scope.
//
// A bundle is a tar stream compressed with zstd or lz4. Each entry holds one
// blob of the scope, named relative to the scope directory, and carries its
// CRC32-C in a PAX record. metadata.json is written last so a truncated
// bundle never imports.
package bundle

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/catid/blobstore"
	"github.com/hupe1980/catid/enrollment"
	"github.com/hupe1980/catid/internal/hash"
)

// Compression selects the bundle compression.
type Compression string

const (
	// Zstd gives the best ratio. It is the default.
	Zstd Compression = "zstd"
	// LZ4 is faster on small boards.
	LZ4 Compression = "lz4"
)

const (
	paxChecksum = "CATID.crc32c"
	maxEntry    = 256 << 20
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

var (
	// ErrCorrupt is returned for bundles that fail verification.
	ErrCorrupt = errors.New("corrupt bundle")
	// ErrUnknownCompression is returned for unsupported compression names
	// or stream formats.
	ErrUnknownCompression = errors.New("unknown bundle compression")
)

// ParseCompression parses a compression name. Empty selects Zstd.
func ParseCompression(s string) (Compression, error) {
	switch Compression(strings.ToLower(s)) {
	case "", Zstd:
		return Zstd, nil
	case LZ4:
		return LZ4, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCompression, s)
}

// Stats describes a transferred bundle.
type Stats struct {
	Entries int
	Bytes   int64
}

// Export writes every blob of scope to w. For a user scope, blobs of its
// device scopes are not included.
func Export(ctx context.Context, blobs blobstore.BlobStore, scope enrollment.Scope, w io.Writer, c Compression) (Stats, error) {
	if err := scope.Validate(); err != nil {
		return Stats{}, err
	}
	dir := scope.Dir() + "/"

	names, err := blobs.List(ctx, dir)
	if err != nil {
		return Stats{}, fmt.Errorf("list %s: %w", dir, err)
	}
	var entries []string
	hasMeta := false
	for _, name := range names {
		rel := strings.TrimPrefix(name, dir)
		if !scope.IsDevice() && strings.HasPrefix(rel, "devices/") {
			continue
		}
		if path.Base(rel) == blobstore.LockName || strings.HasSuffix(rel, ".tmp") {
			continue
		}
		if rel == enrollment.MetadataFile {
			hasMeta = true
			continue
		}
		entries = append(entries, rel)
	}
	if !hasMeta {
		return Stats{}, fmt.Errorf("%w: %s", enrollment.ErrNotFound, scope)
	}
	entries = append(entries, enrollment.MetadataFile)

	cw, err := compressor(w, c)
	if err != nil {
		return Stats{}, err
	}
	tw := tar.NewWriter(cw)

	var st Stats
	now := time.Now()
	for _, rel := range entries {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		data, err := blobstore.ReadAll(ctx, blobs, dir+rel)
		if err != nil {
			return st, fmt.Errorf("read %s: %w", rel, err)
		}
		hdr := &tar.Header{
			Name:       rel,
			Mode:       0o644,
			Size:       int64(len(data)),
			ModTime:    now,
			Format:     tar.FormatPAX,
			PAXRecords: map[string]string{paxChecksum: strconv.FormatUint(uint64(hash.CRC32C(data)), 16)},
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return st, err
		}
		if _, err := tw.Write(data); err != nil {
			return st, err
		}
		st.Entries++
		st.Bytes += int64(len(data))
	}
	if err := tw.Close(); err != nil {
		return st, err
	}
	return st, cw.Close()
}

func compressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case "", Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case LZ4:
		return lz4.NewWriter(w), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, c)
}

// decompressor sniffs the stream format.
func decompressor(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	switch {
	case bytes.Equal(magic, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	case bytes.Equal(magic, lz4Magic):
		return lz4.NewReader(br), func() {}, nil
	}
	return nil, nil, fmt.Errorf("%w: magic %x", ErrUnknownCompression, magic)
}

type item struct {
	rel  string
	data []byte
}

// Import reads a bundle from r into scope of store. Every entry is verified
// before anything is written; blobs are written first and metadata.json
// last, then the scope is reloaded. An existing document is replaced.
func Import(ctx context.Context, store *enrollment.Store, scope enrollment.Scope, r io.Reader) (Stats, error) {
	if err := scope.Validate(); err != nil {
		return Stats{}, err
	}

	dr, closeFn, err := decompressor(r)
	if err != nil {
		return Stats{}, err
	}
	defer closeFn()

	var items []item
	var meta []byte
	tr := tar.NewReader(dr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Stats{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		rel, err := blobstore.CleanName(hdr.Name)
		if err != nil {
			return Stats{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if hdr.Size > maxEntry {
			return Stats{}, fmt.Errorf("%w: %s is %d bytes", ErrCorrupt, rel, hdr.Size)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return Stats{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, rel, err)
		}
		if err := verify(hdr, data); err != nil {
			return Stats{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, rel, err)
		}
		if rel == enrollment.MetadataFile {
			meta = data
			continue
		}
		items = append(items, item{rel: rel, data: data})
	}
	if meta == nil {
		return Stats{}, fmt.Errorf("%w: missing %s", ErrCorrupt, enrollment.MetadataFile)
	}

	blobs := store.Blobs()
	dir := scope.Dir()
	var st Stats
	for _, it := range append(items, item{rel: enrollment.MetadataFile, data: meta}) {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if err := blobs.Put(ctx, path.Join(dir, it.rel), it.data); err != nil {
			return st, fmt.Errorf("write %s: %w", it.rel, err)
		}
		st.Entries++
		st.Bytes += int64(len(it.data))
	}
	store.Reload(scope)
	return st, nil
}

func verify(hdr *tar.Header, data []byte) error {
	want, ok := hdr.PAXRecords[paxChecksum]
	if !ok {
		return errors.New("missing checksum")
	}
	sum, err := strconv.ParseUint(want, 16, 32)
	if err != nil {
		return fmt.Errorf("bad checksum %q", want)
	}
	if got := hash.CRC32C(data); uint32(sum) != got {
		return fmt.Errorf("checksum mismatch: %08x != %08x", got, sum)
	}
	return nil
}
