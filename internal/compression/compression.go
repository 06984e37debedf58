// Package compression implements C6, the Compression Adapter: it wraps a
// bucket's byte stream in an optional gzip transform, using
// github.com/klauspost/compress/gzip rather than the stdlib package (same
// API, already pulled in transitively by the teacher's kafka-go dependency,
// faster in practice). It also resolves the resume compression policy table
// from spec.md §4.6 — the asymmetry between what was configured for this
// run and what a resumed object's metadata says was already in flight.
package compression

import (
	"bytes"

	"github.com/klauspost/compress/gzip"
)

// Kind is the configured compression for a run.
type Kind int

const (
	None Kind = iota
	Gzip
)

// Level mirrors gzip's level knob, including the package default.
type Level int

const (
	DefaultLevel Level = Level(gzip.DefaultCompression)
)

func (l Level) resolve() int {
	if l == 0 {
		return gzip.DefaultCompression
	}
	return int(l)
}

// EncodeSegment gzip-encodes (or passes through) a single byte slice in one
// shot. Each multipart part is encoded independently as its own gzip member
// rather than through one continuous gzip.Writer spanning the whole object:
// per spec.md §4.6/§9, gzip streams concatenate safely, so a reader
// decoding the whole object back-to-back sees the right bytes regardless of
// which individual parts were gzipped. This is also what lets a resumed
// bucket mix a gzipped prefix with an uncompressed remainder (or vice
// versa) within the same object.
func EncodeSegment(p []byte, kind Kind, level Level) ([]byte, error) {
	if kind == None {
		return p, nil
	}
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, level.resolve())
	if err != nil {
		gz = gzip.NewWriter(&buf)
	}
	if _, err := gz.Write(p); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ResumeAction is what C6 decides to do with a bucket's remaining chunks
// given the configured compression and what a resumed object's metadata
// says was already written (spec.md §4.6 table).
type ResumeAction struct {
	// CompressRemainder is true if the chunks written from here on should
	// be gzipped.
	CompressRemainder bool
}

// ResolveResume implements the §4.6 table. previousKind is the compression
// recorded in BackupObjectMetadata for the upload being resumed or
// terminated; ok is false when there is no prior metadata (fresh bucket).
func ResolveResume(configured Kind, previousKind Kind, ok bool) ResumeAction {
	if !ok {
		return ResumeAction{CompressRemainder: configured == Gzip}
	}
	// Both configured and previous are known: only the "skip" and "gzip
	// anyway" cases are asymmetric; matching kinds just continue as-is.
	return ResumeAction{CompressRemainder: previousKind == Gzip}
}
