// Package record holds the data model shared by every pipeline stage: the
// reduced consumer record, the opaque cursor context carried alongside it,
// and the two tagged sequences (RecordElement, ByteStringContext) the core
// passes between stages.
package record

// Record is a reduced consumer record. Timestamp is epoch millis and is the
// sole input to bucketing; records are assumed to arrive in non-decreasing
// timestamp order per partition.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp int64
}

// CursorContext is an opaque token supplied by the upstream consumer,
// sufficient to mark a record as consumed. The core never inspects it.
type CursorContext any

// WithContext pairs a Record with its CursorContext as delivered by the
// upstream consumer.
type WithContext struct {
	Record Record
	Ctx    CursorContext
}

// Tagged pairs a Record with its context and the bucket index C1 assigned
// to it.
type Tagged struct {
	Record      Record
	BucketIndex int64
	Ctx         CursorContext
}

// Element is the RecordElement sum type from spec.md §3: either a tagged
// record or an End boundary marker. End carries no context — the record
// immediately before it already committed the last cursor of the closed
// bucket.
type Element struct {
	isEnd bool
	Tag   Tagged
}

// NewElement wraps a tagged record as an Element.
func NewElement(t Tagged) Element {
	return Element{Tag: t}
}

// EndMarker is the End variant.
var EndMarker = Element{isEnd: true}

// IsEnd reports whether this Element is the End marker.
func (e Element) IsEnd() bool {
	return e.isEnd
}
