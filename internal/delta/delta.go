// Package delta computes and applies structural differences between two
// versions of a document: key-wise for JSON objects, positionally for
// lines of text. Incremental sessions use the JSON delta to translate only
// changed keys.
package delta

import (
	"reflect"
	"sort"
	"strings"
)

// Delta is the structural difference between two JSON-object documents.
// Added and Modified are nested-aware: a change under "nav.title" is stored
// as {"nav": {"title": ...}}. Deleted holds dot-paths of removed leaves.
type Delta struct {
	Added    map[string]any `json:"added"`
	Modified map[string]any `json:"modified"`
	Deleted  []string       `json:"deleted"`
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// Count returns the number of top-level entries across the three collections.
func (d Delta) Count() int {
	return len(d.Added) + len(d.Modified) + len(d.Deleted)
}

// Diff compares two JSON-object documents key by key. Nested objects are
// recursed into; arrays and scalars are compared by deep equality and
// reported whole. Keys are visited in sorted order so deleted paths and any
// serialized form of the delta are stable across runs.
func Diff(old, updated map[string]any) Delta {
	d := Delta{Added: map[string]any{}, Modified: map[string]any{}}

	for _, key := range sortedKeys(updated) {
		newVal := updated[key]
		oldVal, existed := old[key]
		if !existed {
			d.Added[key] = newVal
			continue
		}

		oldObj, oldIsObj := oldVal.(map[string]any)
		newObj, newIsObj := newVal.(map[string]any)
		if oldIsObj && newIsObj {
			nested := Diff(oldObj, newObj)
			if len(nested.Added) > 0 {
				d.Added[key] = nested.Added
			}
			if len(nested.Modified) > 0 {
				d.Modified[key] = nested.Modified
			}
			for _, path := range nested.Deleted {
				d.Deleted = append(d.Deleted, key+"."+path)
			}
			continue
		}

		if !reflect.DeepEqual(oldVal, newVal) {
			d.Modified[key] = newVal
		}
	}

	for _, key := range sortedKeys(old) {
		if _, still := updated[key]; !still {
			d.Deleted = append(d.Deleted, key)
		}
	}

	if len(d.Added) == 0 {
		d.Added = map[string]any{}
	}
	if len(d.Modified) == 0 {
		d.Modified = map[string]any{}
	}
	return d
}

// Merge applies a delta to an existing document and returns the result.
// Added entries land first, then modified, both merged key-wise (nested
// objects are recursed into, not overwritten wholesale). Deleted dot-paths
// are removed last; a missing intermediate path is a no-op.
func Merge(existing map[string]any, d Delta) map[string]any {
	out := cloneObject(existing)
	patch(out, d.Added)
	patch(out, d.Modified)
	for _, path := range d.Deleted {
		removePath(out, path)
	}
	return out
}

// Changed returns the partial document covered by a delta: added and
// modified entries merged into one object. This is the unit handed to the
// translator for an incremental session.
func Changed(d Delta) map[string]any {
	out := map[string]any{}
	patch(out, d.Added)
	patch(out, d.Modified)
	return out
}

func patch(dst, src map[string]any) {
	for key, val := range src {
		if srcObj, ok := val.(map[string]any); ok {
			if dstObj, ok := dst[key].(map[string]any); ok {
				patch(dstObj, srcObj)
				continue
			}
			dst[key] = cloneObject(srcObj)
			continue
		}
		dst[key] = val
	}
}

func removePath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := doc[part].(map[string]any)
		if !ok {
			return
		}
		doc = next
	}
	delete(doc, parts[len(parts)-1])
}

func cloneObject(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for key, val := range src {
		if obj, ok := val.(map[string]any); ok {
			out[key] = cloneObject(obj)
			continue
		}
		out[key] = val
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
