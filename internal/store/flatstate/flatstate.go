// Package flatstate implements the §4.1/§9 flat symbol-state codec: a job's
// durable state is a single flat map of dotted paths to scalar/array/object
// JSON values, never a cyclic object graph (§9 redesign flag: "cyclic object
// refs via a shared symbol table" becomes "the flat map is the sole durable
// representation"). Reads and writes go through gjson/sjson path
// expressions so the engine never hand-rolls JSON tree-walking.
package flatstate

import (
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Symbol is a dotted path into the flat state, e.g. "order.total" or
// "items.0.sku".
type Symbol string

// Encode serializes a set of symbol->value assignments into a single jsonb
// document, applying them in a stable (sorted) order so two calls with the
// same map produce byte-identical output — useful for idempotent replays.
func Encode(values map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := []byte("{}")
	var err error
	for _, k := range keys {
		doc, err = sjson.SetBytes(doc, k, values[k])
		if err != nil {
			return nil, fmt.Errorf("flatstate: set %q: %w", k, err)
		}
	}
	return doc, nil
}

// Merge applies values onto an existing document, returning the updated
// document. Existing paths not present in values are left untouched —
// this is the "lazy assignment" behavior §4.1 requires: an activity only
// ever writes the symbols it produced.
func Merge(doc []byte, values map[string]any) ([]byte, error) {
	if len(doc) == 0 {
		doc = []byte("{}")
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, k := range keys {
		doc, err = sjson.SetBytes(doc, k, values[k])
		if err != nil {
			return nil, fmt.Errorf("flatstate: set %q: %w", k, err)
		}
	}
	return doc, nil
}

// Read extracts the requested symbols from doc. A missing symbol is simply
// absent from the result map rather than an error — activities consume
// only the symbols a prior activity actually produced (§4.1 consumesMap).
func Read(doc []byte, symbols []string) map[string]any {
	out := make(map[string]any, len(symbols))
	for _, sym := range symbols {
		res := gjson.GetBytes(doc, sym)
		if !res.Exists() {
			continue
		}
		out[sym] = res.Value()
	}
	return out
}

// ReadAll decodes every top-level-and-nested leaf in doc into a flat
// dotted-path map, mirroring what Encode would have produced. Used when an
// activity has no consumesMap and wants the entire job state (§6 GetState).
func ReadAll(doc []byte) map[string]any {
	out := map[string]any{}
	var walk func(prefix string, res gjson.Result)
	walk = func(prefix string, res gjson.Result) {
		if res.IsObject() {
			res.ForEach(func(key, value gjson.Result) bool {
				p := key.String()
				if prefix != "" {
					p = prefix + "." + p
				}
				walk(p, value)
				return true
			})
			return
		}
		if res.IsArray() {
			i := 0
			res.ForEach(func(_, value gjson.Result) bool {
				p := fmt.Sprintf("%s.%d", prefix, i)
				walk(p, value)
				i++
				return true
			})
			return
		}
		out[prefix] = res.Value()
	}
	walk("", gjson.ParseBytes(doc))
	return out
}

// Delete removes a symbol path from doc, used by cascade-expire cleanup of
// large transient payloads ahead of a job's final archival.
func Delete(doc []byte, symbol string) ([]byte, error) {
	out, err := sjson.DeleteBytes(doc, symbol)
	if err != nil {
		return nil, fmt.Errorf("flatstate: delete %q: %w", symbol, err)
	}
	return out, nil
}
