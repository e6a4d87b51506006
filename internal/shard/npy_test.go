package shard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// writeNpy writes a v1 .npy file holding vecs as a (len(vecs) × dim) float32
// matrix and returns its path. The header dict mirrors what numpy.save emits.
func writeNpy(t *testing.T, dir, name string, dim int, vecs [][]float32) string {
	t.Helper()

	dict := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", len(vecs), dim)
	// Pad so the full preamble (10 bytes) + dict is 16-byte aligned and the
	// dict ends with a newline, matching the npy spec.
	pad := 16 - (10+len(dict)+1)%16
	if pad == 16 {
		pad = 0
	}
	for i := 0; i < pad; i++ {
		dict += " "
	}
	dict += "\n"

	buf := []byte("\x93NUMPY\x01\x00")
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(dict)))
	buf = append(buf, dict...)
	for _, vec := range vecs {
		if len(vec) != dim {
			t.Fatalf("writeNpy: vector length %d != dim %d", len(vec), dim)
		}
		for _, v := range vec {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("writeNpy: %v", err)
	}
	return path
}

// testVecs builds n vectors of dimension dim with distinct recognisable values.
func testVecs(n, dim int) [][]float32 {
	vecs := make([][]float32, n)
	for i := range vecs {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(i*dim + j)
		}
		vecs[i] = vec
	}
	return vecs
}

func TestOpen_HeaderFields(t *testing.T) {
	dir := t.TempDir()
	path := writeNpy(t, dir, "part_0.npy", 4, testVecs(10, 4))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if f.Rows() != 10 {
		t.Errorf("Rows(): got %d, want 10", f.Rows())
	}
	if f.Dim() != 4 {
		t.Errorf("Dim(): got %d, want 4", f.Dim())
	}
	if f.Path() != path {
		t.Errorf("Path(): got %q, want %q", f.Path(), path)
	}
}

func TestReadRange_Values(t *testing.T) {
	dir := t.TempDir()
	vecs := testVecs(7, 3)
	path := writeNpy(t, dir, "part_0.npy", 3, vecs)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	got, err := f.ReadRange(2, 5)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadRange length: got %d, want 3", len(got))
	}
	for i, vec := range got {
		want := vecs[2+i]
		for j := range want {
			if vec[j] != want[j] {
				t.Errorf("row %d col %d: got %v, want %v", 2+i, j, vec[j], want[j])
			}
		}
	}
}

func TestReadRange_Bounds(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(writeNpy(t, dir, "p.npy", 2, testVecs(4, 2)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	for _, tt := range []struct{ i, j int }{{-1, 2}, {0, 5}, {3, 2}} {
		if _, err := f.ReadRange(tt.i, tt.j); err == nil {
			t.Errorf("ReadRange(%d, %d): expected error, got nil", tt.i, tt.j)
		}
	}

	// Empty range is not an error.
	out, err := f.ReadRange(2, 2)
	if err != nil {
		t.Errorf("ReadRange(2, 2): unexpected error: %v", err)
	}
	if out != nil {
		t.Errorf("ReadRange(2, 2): expected nil, got %d rows", len(out))
	}
}

func TestOpen_BadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bogus.npy")
	if err := os.WriteFile(path, []byte("definitely not a npy file"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	if !errors.Is(err, ErrBadMagic) {
		t.Errorf("Open: got %v, want ErrBadMagic", err)
	}
}

func TestOpen_WrongDtype(t *testing.T) {
	dir := t.TempDir()
	dict := "{'descr': '<f8', 'fortran_order': False, 'shape': (1, 2), }      \n"
	buf := []byte("\x93NUMPY\x01\x00")
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(dict)))
	buf = append(buf, dict...)
	buf = append(buf, make([]byte, 16)...)

	path := filepath.Join(dir, "f8.npy")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	if !errors.Is(err, ErrUnsupportedDtype) {
		t.Errorf("Open: got %v, want ErrUnsupportedDtype", err)
	}
}

func TestOpen_Truncated(t *testing.T) {
	dir := t.TempDir()
	path := writeNpy(t, dir, "full.npy", 4, testVecs(8, 4))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	short := filepath.Join(dir, "short.npy")
	if err := os.WriteFile(short, data[:len(data)-8], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(short); err == nil {
		t.Error("Open: expected error for truncated file, got nil")
	}
}

func TestLocate_NaturalOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"part_10.npy", "part_1.npy", "part_2.npy", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := Locate(dir)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}

	want := []string{"part_1.npy", "part_2.npy", "part_10.npy"}
	if len(paths) != len(want) {
		t.Fatalf("Locate: got %d files, want %d", len(paths), len(want))
	}
	for i := range want {
		if filepath.Base(paths[i]) != want[i] {
			t.Errorf("paths[%d]: got %q, want %q", i, filepath.Base(paths[i]), want[i])
		}
	}
}

func TestLocate_Empty(t *testing.T) {
	dir := t.TempDir()
	_, err := Locate(dir)
	if !errors.Is(err, ErrNoShards) {
		t.Errorf("Locate: got %v, want ErrNoShards", err)
	}
}
