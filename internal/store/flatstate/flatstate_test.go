package flatstate

import (
	"encoding/json"
	"testing"
)

func TestEncodeIsDeterministic(t *testing.T) {
	a, err := Encode(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected deterministic encoding, got %s vs %s", a, b)
	}
}

func TestMergePreservesUntouchedPaths(t *testing.T) {
	doc, err := Encode(map[string]any{"order.id": "o1", "order.total": 10})
	if err != nil {
		t.Fatal(err)
	}
	doc, err = Merge(doc, map[string]any{"order.total": 20})
	if err != nil {
		t.Fatal(err)
	}
	got := Read(doc, []string{"order.id", "order.total"})
	if got["order.id"] != "o1" {
		t.Fatalf("expected order.id preserved, got %v", got)
	}
	if got["order.total"].(float64) != 20 {
		t.Fatalf("expected order.total updated, got %v", got["order.total"])
	}
}

func TestReadMissingSymbolIsAbsent(t *testing.T) {
	doc, _ := Encode(map[string]any{"a": 1})
	got := Read(doc, []string{"a", "nope"})
	if _, ok := got["nope"]; ok {
		t.Fatal("expected missing symbol to be absent, not nil-valued")
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one symbol, got %v", got)
	}
}

func TestReadAllFlattensNestedDocument(t *testing.T) {
	var doc json.RawMessage = []byte(`{"order":{"id":"o1","items":["a","b"]}}`)
	got := ReadAll(doc)
	if got["order.id"] != "o1" {
		t.Fatalf("expected order.id, got %v", got)
	}
	if got["order.items.0"] != "a" || got["order.items.1"] != "b" {
		t.Fatalf("expected flattened array items, got %v", got)
	}
}

func TestDeleteRemovesPath(t *testing.T) {
	doc, _ := Encode(map[string]any{"a": 1, "b": 2})
	doc, err := Delete(doc, "a")
	if err != nil {
		t.Fatal(err)
	}
	got := Read(doc, []string{"a", "b"})
	if _, ok := got["a"]; ok {
		t.Fatal("expected a to be deleted")
	}
	if got["b"].(float64) != 2 {
		t.Fatalf("expected b preserved, got %v", got["b"])
	}
}
