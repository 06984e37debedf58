package canonical_test

import (
	"testing"

	"github.com/arborlabs/kbackup/internal/canonical"
)

func TestMarshalSortedKeys(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1}
	b := map[string]interface{}{"a": 1, "b": 2}

	ca, err := canonical.Marshal(a)
	if err != nil {
		t.Fatalf("canonical.Marshal(a) error: %v", err)
	}
	cb, err := canonical.Marshal(b)
	if err != nil {
		t.Fatalf("canonical.Marshal(b) error: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("expected identical canonical encodings regardless of map literal order, got %s vs %s", ca, cb)
	}
	if string(ca) != `{"a":1,"b":2}` {
		t.Fatalf("unexpected canonical encoding: %s", ca)
	}
}

func TestMarshalNoWhitespace(t *testing.T) {
	v := []interface{}{map[string]interface{}{"x": "y"}, nil, true}
	b, err := canonical.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `[{"x":"y"},null,true]`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}
