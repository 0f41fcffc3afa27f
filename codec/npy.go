package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// NPYExt is the file extension of embedding blobs.
const NPYExt = ".npy"

var npyMagic = []byte("\x93NUMPY")

// ErrNPYFormat is returned for blobs that are not a supported .npy array.
var ErrNPYFormat = errors.New("unsupported npy format")

var (
	descrRe = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	shapeRe = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// EncodeNPY encodes vec as a version 1.0 .npy array of little-endian float32
// with shape (len(vec),).
func EncodeNPY(vec []float32) []byte {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d,), }", len(vec))

	// magic(6) + version(2) + header length(2) + header, padded to 64 bytes and
	// terminated by a newline.
	const preamble = 10
	total := preamble + len(header) + 1
	if rem := total % 64; rem != 0 {
		header += strings.Repeat(" ", 64-rem)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Grow(preamble + len(header) + 4*len(vec))
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	for _, x := range vec {
		_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(x))
	}
	return buf.Bytes()
}

// DecodeNPY decodes a one-dimensional (or single-row) float32/float64 .npy
// array, converting to float32.
func DecodeNPY(data []byte) ([]float32, error) {
	if len(data) < 10 || !bytes.Equal(data[:6], npyMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrNPYFormat)
	}

	var headerLen, offset int
	switch major := data[6]; major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		offset = 10
	case 2, 3:
		if len(data) < 12 {
			return nil, fmt.Errorf("%w: truncated header", ErrNPYFormat)
		}
		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		offset = 12
	default:
		return nil, fmt.Errorf("%w: version %d", ErrNPYFormat, major)
	}
	if offset+headerLen > len(data) {
		return nil, fmt.Errorf("%w: truncated header", ErrNPYFormat)
	}
	header := string(data[offset : offset+headerLen])
	body := data[offset+headerLen:]

	descr, n, err := parseNPYHeader(header)
	if err != nil {
		return nil, err
	}

	var order binary.ByteOrder = binary.LittleEndian
	if strings.HasPrefix(descr, ">") {
		order = binary.BigEndian
	}

	out := make([]float32, n)
	switch strings.TrimLeft(descr, "<>=|") {
	case "f4":
		if len(body) < 4*n {
			return nil, fmt.Errorf("%w: truncated data", ErrNPYFormat)
		}
		for i := range out {
			out[i] = math.Float32frombits(order.Uint32(body[4*i:]))
		}
	case "f8":
		if len(body) < 8*n {
			return nil, fmt.Errorf("%w: truncated data", ErrNPYFormat)
		}
		for i := range out {
			out[i] = float32(math.Float64frombits(order.Uint64(body[8*i:])))
		}
	default:
		return nil, fmt.Errorf("%w: dtype %q", ErrNPYFormat, descr)
	}
	return out, nil
}

func parseNPYHeader(header string) (string, int, error) {
	m := descrRe.FindStringSubmatch(header)
	if m == nil {
		return "", 0, fmt.Errorf("%w: missing descr", ErrNPYFormat)
	}
	descr := m[1]

	s := shapeRe.FindStringSubmatch(header)
	if s == nil {
		return "", 0, fmt.Errorf("%w: missing shape", ErrNPYFormat)
	}
	n := 1
	dims := 0
	for _, part := range strings.Split(s[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return "", 0, fmt.Errorf("%w: shape %q", ErrNPYFormat, s[1])
		}
		if d != 1 {
			dims++
		}
		n *= d
	}
	// fortran_order is irrelevant once multi-dimensional shapes are refused.
	if dims > 1 {
		return "", 0, fmt.Errorf("%w: not a vector: (%s)", ErrNPYFormat, s[1])
	}
	return descr, n, nil
}
