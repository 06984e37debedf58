// Package canonical provides a deterministic, whitespace-free JSON encoder:
// object keys are sorted lexicographically, arrays preserve order, and
// primitives are encoded via encoding/json. Adapted from the kernel's
// audit-envelope canonicalizer for framing backup records instead of audit
// events — the encoding rule is identical, only the payload shape differs.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns deterministic JSON bytes for an arbitrary JSON-like value.
func Marshal(v interface{}) ([]byte, error) {
	w := &writer{buf: &bytes.Buffer{}}
	if err := w.write(v); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

// writer accumulates canonical output. Keeping the buffer on a receiver
// (rather than threading it through every call) lets each value kind live
// in its own method instead of one long switch body.
type writer struct {
	buf *bytes.Buffer
}

func (w *writer) write(v interface{}) error {
	switch val := v.(type) {
	case string:
		return w.writeLiteral(val)
	case json.Number:
		w.buf.WriteString(val.String())
		return nil
	case int, int32, int64, float64:
		return w.writeLiteral(val)
	case bool:
		return w.writeBool(val)
	case nil:
		w.buf.WriteString("null")
		return nil
	case []interface{}:
		return w.writeArray(val)
	case map[string]interface{}:
		return w.writeObject(val)
	default:
		return w.writeUnrecognized(val)
	}
}

func (w *writer) writeBool(b bool) error {
	if b {
		w.buf.WriteString("true")
	} else {
		w.buf.WriteString("false")
	}
	return nil
}

// writeLiteral handles any value encoding/json already renders
// deterministically on its own (strings, the fixed-width numeric kinds).
func (w *writer) writeLiteral(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("canonical: encode literal: %w", err)
	}
	w.buf.Write(b)
	return nil
}

func (w *writer) writeArray(items []interface{}) error {
	w.buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		if err := w.write(item); err != nil {
			return err
		}
	}
	w.buf.WriteByte(']')
	return nil
}

// writeObject sorts keys into a fixed order first (rather than sorting in
// place inside the write loop), so the emission loop below is a plain
// walk over an already-ordered slice.
func (w *writer) writeObject(m map[string]interface{}) error {
	keys := sortedKeys(m)

	w.buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		if err := w.writeLiteral(k); err != nil {
			return err
		}
		w.buf.WriteByte(':')
		if err := w.write(m[k]); err != nil {
			return err
		}
	}
	w.buf.WriteByte('}')
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// writeUnrecognized handles any concrete Go type not covered above — a
// caller-defined struct, a typed slice, a pointer, and so on — by routing
// it through encoding/json once to obtain a generic representation
// (numbers preserved via json.Number so int vs. float distinctions do not
// round-trip through float64), then re-entering write with that value.
func (w *writer) writeUnrecognized(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("canonical: marshal unrecognized value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("canonical: re-decode unrecognized value: %w", err)
	}
	return w.write(generic)
}
