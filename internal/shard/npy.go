package shard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/mmap"
)

// NumPy .npy layout: 6 magic bytes, 2 version bytes, a little-endian header
// length (2 bytes in v1, 4 bytes in v2+), then a Python dict literal
// describing dtype and shape, then raw array data.
const npyMagic = "\x93NUMPY"

var (
	// ErrBadMagic indicates the file does not start with the NumPy magic
	// string and is not a .npy file at all.
	ErrBadMagic = errors.New("not a npy file (bad magic)")

	// ErrUnsupportedDtype indicates the array is not little-endian float32.
	ErrUnsupportedDtype = errors.New("unsupported npy dtype (want <f4)")
)

// File is a read-only, memory-mapped vector shard. Batches are decoded on
// demand via [File.ReadRange]; the mapping itself is shared and never
// written, so a single File is safe for concurrent readers.
type File struct {
	r       *mmap.ReaderAt
	path    string
	rows    int
	dim     int
	dataOff int
}

// Open memory-maps the shard at path and parses its npy header. The array
// must be a 2-D little-endian float32 matrix in C (row-major) order; each
// row is one vector.
//
// The caller owns the returned File and must Close it; slices handed out by
// ReadRange remain valid after Close (they are copies, not mapped views).
func Open(path string) (*File, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shard: open %q: %w", path, err)
	}

	f := &File{r: r, path: path}
	if err := f.parseHeader(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("shard: %q: %w", path, err)
	}
	return f, nil
}

// Path returns the file path the shard was opened from.
func (f *File) Path() string { return f.path }

// Rows returns the number of vectors stored in this shard.
func (f *File) Rows() int { return f.rows }

// Dim returns the dimensionality of every vector in this shard.
func (f *File) Dim() int { return f.dim }

// Close unmaps and closes the underlying file.
func (f *File) Close() error {
	if f.r == nil {
		return nil
	}
	err := f.r.Close()
	f.r = nil
	return err
}

// ReadRange decodes the vectors at row indices [i, j) into freshly allocated
// float32 slices. Only the requested rows are read from the mapping, so
// large shards never need to be resident in full.
func (f *File) ReadRange(i, j int) ([][]float32, error) {
	if i < 0 || j < i || j > f.rows {
		return nil, fmt.Errorf("shard: %q: row range [%d, %d) out of bounds (rows=%d)", f.path, i, j, f.rows)
	}
	if i == j {
		return nil, nil
	}

	rowBytes := f.dim * 4
	buf := make([]byte, (j-i)*rowBytes)
	if _, err := f.r.ReadAt(buf, int64(f.dataOff+i*rowBytes)); err != nil {
		return nil, fmt.Errorf("shard: %q: read rows [%d, %d): %w", f.path, i, j, err)
	}

	out := make([][]float32, j-i)
	for row := range out {
		vec := make([]float32, f.dim)
		base := row * rowBytes
		for c := 0; c < f.dim; c++ {
			bits := binary.LittleEndian.Uint32(buf[base+c*4:])
			vec[c] = math.Float32frombits(bits)
		}
		out[row] = vec
	}
	return out, nil
}

// parseHeader validates the npy preamble and extracts dtype and shape.
func (f *File) parseHeader() error {
	pre := make([]byte, 12)
	if _, err := f.r.ReadAt(pre[:10], 0); err != nil {
		return fmt.Errorf("read preamble: %w", err)
	}
	if string(pre[:6]) != npyMagic {
		return ErrBadMagic
	}

	major := pre[6]
	var headerLen, headerStart int
	switch {
	case major == 1:
		headerLen = int(binary.LittleEndian.Uint16(pre[8:10]))
		headerStart = 10
	case major >= 2:
		if _, err := f.r.ReadAt(pre[8:12], 8); err != nil {
			return fmt.Errorf("read v2 header length: %w", err)
		}
		headerLen = int(binary.LittleEndian.Uint32(pre[8:12]))
		headerStart = 12
	default:
		return fmt.Errorf("unsupported npy version %d.%d", pre[6], pre[7])
	}

	raw := make([]byte, headerLen)
	if _, err := f.r.ReadAt(raw, int64(headerStart)); err != nil {
		return fmt.Errorf("read header dict: %w", err)
	}
	header := string(raw)

	descr, err := headerField(header, "descr")
	if err != nil {
		return err
	}
	// '<f4' is little-endian float32; '|f4' never occurs for multi-byte types
	// but some writers emit it for single elements; reject anything else.
	if descr != "<f4" {
		return fmt.Errorf("%w: got %q", ErrUnsupportedDtype, descr)
	}

	if strings.Contains(header, "'fortran_order': True") {
		return fmt.Errorf("fortran-order arrays are not supported")
	}

	rows, dim, err := headerShape(header)
	if err != nil {
		return err
	}

	f.rows = rows
	f.dim = dim
	f.dataOff = headerStart + headerLen

	if want := f.dataOff + rows*dim*4; f.r.Len() < want {
		return fmt.Errorf("truncated shard: have %d bytes, header implies %d", f.r.Len(), want)
	}
	return nil
}

// headerField extracts the quoted string value for a key from the header
// dict literal, e.g. headerField(h, "descr") -> "<f4".
func headerField(header, key string) (string, error) {
	marker := "'" + key + "':"
	idx := strings.Index(header, marker)
	if idx < 0 {
		return "", fmt.Errorf("npy header missing %q", key)
	}
	rest := header[idx+len(marker):]
	open := strings.IndexByte(rest, '\'')
	if open < 0 {
		return "", fmt.Errorf("npy header %q: no opening quote", key)
	}
	rest = rest[open+1:]
	end := strings.IndexByte(rest, '\'')
	if end < 0 {
		return "", fmt.Errorf("npy header %q: no closing quote", key)
	}
	return rest[:end], nil
}

// headerShape parses the 'shape' tuple. Exactly two dimensions are accepted:
// (rows, dim). A 1-D shape would mean scalars, not vectors.
func headerShape(header string) (rows, dim int, err error) {
	idx := strings.Index(header, "'shape':")
	if idx < 0 {
		return 0, 0, fmt.Errorf("npy header missing shape")
	}
	rest := header[idx:]
	open := strings.IndexByte(rest, '(')
	closing := strings.IndexByte(rest, ')')
	if open < 0 || closing < open {
		return 0, 0, fmt.Errorf("npy header: malformed shape tuple")
	}

	var dims []int
	for _, part := range strings.Split(rest[open+1:closing], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue // trailing comma in one-tuples
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, 0, fmt.Errorf("npy header: shape element %q: %w", part, err)
		}
		dims = append(dims, n)
	}
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("npy header: want 2-D shape, got %d dimension(s)", len(dims))
	}
	if dims[0] < 0 || dims[1] <= 0 {
		return 0, 0, fmt.Errorf("npy header: invalid shape (%d, %d)", dims[0], dims[1])
	}
	return dims[0], dims[1], nil
}
