// Package archive implements the `.claudelens` container format from
// spec.md §6: a magic-prefixed, zstd-compressed stream carrying a JSON
// header, one section per entity collection, and a trailing JSON footer
// with the rolling checksum. Both the Backup Engine (writer) and the
// Restore Engine (reader) build on this package so the wire format has a
// single definition.
package archive

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/sjafferali/claudelens-archive/infrastructure/errors"
)

// Magic identifies the format family on disk, the first 4 bytes of every
// archive regardless of compression level.
var Magic = [4]byte{'C', 'L', 'A', 'R'}

// ChecksumAlgo is recorded in the header so a future format revision can
// change algorithms without breaking old archives.
const ChecksumAlgo = "sha256"

// Header is the first JSON document in the stream, spec.md §6.
type Header struct {
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	Filters       json.RawMessage `json:"filters,omitempty"`
	ContentCounts ContentCounts   `json:"content_counts"`
	ChecksumAlgo  string          `json:"checksum_algo"`
}

// ContentCounts mirrors domain.ContentCounts without importing domain,
// keeping this package's wire shape independent of the domain model's
// evolution.
type ContentCounts struct {
	Projects int64 `json:"projects"`
	Sessions int64 `json:"sessions"`
	Messages int64 `json:"messages"`
	Prompts  int64 `json:"prompts"`
	Settings int64 `json:"settings"`
}

// SectionHeader precedes every run of documents belonging to one
// collection.
type SectionHeader struct {
	Collection string `json:"collection"`
}

// Footer is the final JSON document in the stream.
type Footer struct {
	Checksum   string `json:"checksum"`
	TotalBytes int64  `json:"total_bytes"`
}

// FormatVersion is written into every new archive's Header.
const FormatVersion = 1

// CompressionLevel maps spec.md's "selectable level (default mid)" onto
// zstd's encoder levels.
type CompressionLevel int

const (
	CompressionFastest CompressionLevel = iota
	CompressionDefault
	CompressionBetter
	CompressionBest
)

func (l CompressionLevel) zstdLevel() zstd.EncoderLevel {
	switch l {
	case CompressionFastest:
		return zstd.SpeedFastest
	case CompressionBetter:
		return zstd.SpeedBetterCompression
	case CompressionBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// Writer streams a backup archive to an underlying io.Writer, maintaining
// a rolling sha-256 over the uncompressed bytes and a byte counter as it
// goes, per spec.md §4.7 step 4. Checksum is computed inline rather than
// by buffering the whole stream, since backups can be arbitrarily large.
type Writer struct {
	raw        io.Writer
	zw         *zstd.Encoder
	digest     hash.Hash
	bytes      int64
	section    string
	sectionErr error
}

// NewWriter wraps dst, writing the magic prefix and compressed header
// immediately.
func NewWriter(dst io.Writer, level CompressionLevel, header Header) (*Writer, error) {
	if _, err := dst.Write(Magic[:]); err != nil {
		return nil, errors.Internal("archive: write magic", err)
	}

	zw, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(level.zstdLevel()))
	if err != nil {
		return nil, errors.Internal("archive: open zstd writer", err)
	}

	w := &Writer{raw: dst, zw: zw, digest: sha256.New()}
	header.Version = FormatVersion
	header.ChecksumAlgo = ChecksumAlgo
	if err := w.writeJSONLine(header); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeJSONLine(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Internal("archive: marshal", err)
	}
	b = append(b, '\n')
	if _, err := w.zw.Write(b); err != nil {
		return errors.Internal("archive: write", err)
	}
	w.digest.Write(b)
	w.bytes += int64(len(b))
	return nil
}

// BeginSection emits a section header for collection, spec.md §4.7 step 3.
func (w *Writer) BeginSection(collection string) error {
	w.section = collection
	return w.writeJSONLine(SectionHeader{Collection: collection})
}

// WriteDocument appends one JSON document to the current section.
func (w *Writer) WriteDocument(doc interface{}) error {
	return w.writeJSONLine(doc)
}

// Close writes the trailing footer and flushes the compressor. Call it
// once, after the last document; a stream that is never closed has no
// footer and does not validate as an archive.
func (w *Writer) Close() (Footer, error) {
	footer := Footer{Checksum: hex.EncodeToString(w.digest.Sum(nil)), TotalBytes: w.bytes}
	if err := w.writeJSONLine(footer); err != nil {
		return Footer{}, err
	}
	if err := w.zw.Close(); err != nil {
		return Footer{}, errors.Internal("archive: close zstd writer", err)
	}
	return footer, nil
}

// BytesWritten returns the running uncompressed byte count.
func (w *Writer) BytesWritten() int64 {
	return w.bytes
}

// Reader decodes a Writer-produced stream, line by line.
type Reader struct {
	zr     *zstd.Decoder
	scan   *bufio.Scanner
	Header Header
}

// NewReader validates the magic prefix and decodes the header.
func NewReader(src io.Reader) (*Reader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(src, magic[:]); err != nil {
		return nil, errors.Corruption("archive: truncated magic prefix", 0)
	}
	if magic != Magic {
		return nil, errors.Corruption("archive: unrecognized magic prefix", 4)
	}

	zr, err := zstd.NewReader(src)
	if err != nil {
		return nil, errors.Corruption(fmt.Sprintf("archive: open zstd reader: %v", err), 4)
	}

	r := &Reader{zr: zr, scan: bufio.NewScanner(zr)}
	r.scan.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !r.scan.Scan() {
		return nil, errors.Corruption("archive: missing header", 0)
	}
	if err := json.Unmarshal(r.scan.Bytes(), &r.Header); err != nil {
		return nil, errors.Corruption("archive: malformed header: "+err.Error(), 0)
	}
	return r, nil
}

// Line is one decoded record: either a SectionHeader, a document payload,
// or the terminal Footer, discriminated by the caller attempting each in
// turn (the format has no per-line type tag, matching spec.md §6's plain
// JSON-lines-per-section shape).
type Line struct {
	Raw   []byte
	IsEnd bool
}

// Next returns the next undecoded JSON line, or IsEnd once the stream is
// exhausted.
func (r *Reader) Next() (Line, error) {
	if !r.scan.Scan() {
		if err := r.scan.Err(); err != nil {
			return Line{}, errors.Corruption("archive: read failure: "+err.Error(), 0)
		}
		return Line{IsEnd: true}, nil
	}
	buf := make([]byte, len(r.scan.Bytes()))
	copy(buf, r.scan.Bytes())
	return Line{Raw: buf}, nil
}

// Close releases the decompressor.
func (r *Reader) Close() {
	r.zr.Close()
}

// IsSectionHeader reports whether raw decodes cleanly as a SectionHeader
// with a non-empty collection name, distinguishing it from a document
// payload that merely happens to lack other fields.
func IsSectionHeader(raw []byte) (SectionHeader, bool) {
	var probe struct {
		Collection string `json:"collection"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return SectionHeader{}, false
	}
	var full map[string]json.RawMessage
	if err := json.Unmarshal(raw, &full); err != nil {
		return SectionHeader{}, false
	}
	if probe.Collection == "" {
		return SectionHeader{}, false
	}
	if len(full) != 1 {
		return SectionHeader{}, false
	}
	return SectionHeader{Collection: probe.Collection}, true
}

// IsFooter reports whether raw decodes as the trailing Footer.
func IsFooter(raw []byte) (Footer, bool) {
	var f Footer
	if err := json.Unmarshal(raw, &f); err != nil {
		return Footer{}, false
	}
	if f.Checksum == "" {
		return Footer{}, false
	}
	return f, true
}
