// Package apk reads, patches and rebuilds Android-style application
// archives: ZIP containers with a resource table and a manifest, where
// per-entry compression is load-bearing for installability.
package apk

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

const (
	// ResourceTablePath must be stored uncompressed or the target OS
	// refuses to load it.
	ResourceTablePath = "resources.arsc"
	// MetadataDir holds the signing artifacts; its entries are stored
	// uncompressed as well.
	MetadataDir = "META-INF/"

	// deflateLevel is the pinned compression quality for all deflated
	// entries. Rebuilding the same input twice yields identical bytes.
	deflateLevel = flate.BestCompression
)

// zipEpoch pins entry modification times so rebuilds are reproducible.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrCorruptArchive reports an unparseable ZIP structure.
var ErrCorruptArchive = errors.New("corrupt archive")

// Entry is a decompressed archive member.
type Entry struct {
	Path string
	Data []byte
}

// Archive is an in-memory application archive. Entry paths are unique.
type Archive struct {
	entries []Entry
	index   map[string]int
}

// Open parses a ZIP byte buffer into an Archive.
func Open(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	a := &Archive{index: make(map[string]int, len(zr.File))}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrCorruptArchive, f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrCorruptArchive, f.Name, err)
		}
		if _, dup := a.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate entry %s", ErrCorruptArchive, f.Name)
		}
		a.index[f.Name] = len(a.entries)
		a.entries = append(a.entries, Entry{Path: f.Name, Data: content})
	}
	return a, nil
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Paths returns all entry paths sorted lexicographically.
func (a *Archive) Paths() []string {
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Path)
	}
	sort.Strings(out)
	return out
}

// Entry returns the decompressed content of path.
func (a *Archive) Entry(path string) ([]byte, bool) {
	i, ok := a.index[path]
	if !ok {
		return nil, false
	}
	return a.entries[i].Data, true
}

// Replace swaps the content of an existing entry. Unknown paths are ignored.
func (a *Archive) Replace(path string, data []byte) {
	if i, ok := a.index[path]; ok {
		a.entries[i].Data = data
	}
}

// Add appends a new entry, overwriting any existing entry at path.
func (a *Archive) Add(path string, data []byte) {
	if i, ok := a.index[path]; ok {
		a.entries[i].Data = data
		return
	}
	if a.index == nil {
		a.index = make(map[string]int)
	}
	a.index[path] = len(a.entries)
	a.entries = append(a.entries, Entry{Path: path, Data: data})
}

// Clone returns a deep copy; Build and signing mutate their input copy,
// never the caller's archive.
func (a *Archive) Clone() *Archive {
	c := &Archive{
		entries: make([]Entry, len(a.entries)),
		index:   make(map[string]int, len(a.index)),
	}
	for i, e := range a.entries {
		data := make([]byte, len(e.Data))
		copy(data, e.Data)
		c.entries[i] = Entry{Path: e.Path, Data: data}
	}
	for k, v := range a.index {
		c.index[k] = v
	}
	return c
}

// storedEntry reports whether path must bypass compression.
func storedEntry(path string) bool {
	return path == ResourceTablePath || strings.HasPrefix(path, MetadataDir)
}

// Build re-emits the archive as a new ZIP buffer. Entries are written
// sorted by path; the resource table and metadata entries are stored,
// everything else is deflated at the pinned level with timestamps pinned
// to the DOS epoch, so identical input produces identical output.
func (a *Archive) Build() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, deflateLevel)
	})

	paths := a.Paths()
	for _, path := range paths {
		data, _ := a.Entry(path)
		hdr := &zip.FileHeader{
			Name:     path,
			Method:   zip.Deflate,
			Modified: zipEpoch,
		}
		if storedEntry(path) {
			hdr.Method = zip.Store
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
