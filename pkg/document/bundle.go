package document

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Opener lazily opens the content of a bundle entry.
type Opener func(ctx context.Context) (io.ReadCloser, error)

type bundleEntry struct {
	name string
	data []byte
	open Opener
}

// Bundle collects named entries and streams them as a ZIP archive.
// Entry names are made unique by suffixing _<n> before the extension.
type Bundle struct {
	entries []bundleEntry
	names   map[string]int
	now     func() time.Time
}

// NewBundle returns an empty bundle.
func NewBundle() *Bundle {
	return &Bundle{names: make(map[string]int), now: time.Now}
}

// Len returns the number of entries.
func (b *Bundle) Len() int {
	return len(b.entries)
}

// Names returns the final entry names in insertion order.
func (b *Bundle) Names() []string {
	names := make([]string, len(b.entries))
	for i, e := range b.entries {
		names[i] = e.name
	}
	return names
}

// AddBytes adds an in-memory entry and returns the name it was stored under.
func (b *Bundle) AddBytes(name string, data []byte) string {
	name = b.unique(name)
	b.entries = append(b.entries, bundleEntry{name: name, data: data})
	return name
}

// AddBlob adds an entry that is opened only while the archive is written.
func (b *Bundle) AddBlob(name string, open Opener) string {
	name = b.unique(name)
	b.entries = append(b.entries, bundleEntry{name: name, open: open})
	return name
}

// WriteTo streams the archive to w. It stops with ctx.Err() once ctx is cancelled.
func (b *Bundle) WriteTo(ctx context.Context, w io.Writer) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	modified := b.now()
	for _, entry := range b.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.writeEntry(ctx, zw, entry, modified); err != nil {
			return fmt.Errorf("zip entry %s: %w", entry.name, err)
		}
	}
	return zw.Close()
}

func (b *Bundle) writeEntry(ctx context.Context, zw *zip.Writer, entry bundleEntry, modified time.Time) error {
	dst, err := zw.CreateHeader(&zip.FileHeader{
		Name:     entry.name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return err
	}

	if entry.open == nil {
		_, err = dst.Write(entry.data)
		return err
	}

	src, err := entry.open(ctx)
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck

	_, err = io.Copy(dst, &ctxReader{ctx: ctx, r: src})
	return err
}

func (b *Bundle) unique(name string) string {
	n := b.names[name]
	b.names[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := fmt.Sprintf("%s_%d%s", base, n, ext)
	if _, taken := b.names[candidate]; taken {
		return b.unique(candidate)
	}
	b.names[candidate] = 1
	return candidate
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
