// Package realtime is the document database the boards are built on: small
// collections of schemaless documents, point reads and writes, and push
// subscriptions that deliver a fresh ordered snapshot after every write.
package realtime

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Fields is the content of a document. Values are JSON-like: string, bool,
// float64, nil, nested Fields.
type Fields map[string]any

// Clone returns a shallow copy so callers cannot mutate a published snapshot.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Document is one stored record.
type Document struct {
	ID     string
	Fields Fields
}

// String returns the string value at key, or "" if absent or not a string.
func (d Document) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Bool returns the bool value at key, or false if absent or not a bool.
func (d Document) Bool(key string) bool {
	b, _ := d.Fields[key].(bool)
	return b
}

// Ref addresses a single document as "collection/id".
type Ref struct {
	Collection string
	ID         string
}

// Doc builds a Ref.
func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// ParseRef parses a "collection/id" path.
func ParseRef(path string) (Ref, error) {
	collection, id, ok := strings.Cut(path, "/")
	if !ok || collection == "" || id == "" || strings.Contains(id, "/") {
		return Ref{}, fmt.Errorf("invalid document path %q", path)
	}
	return Ref{Collection: collection, ID: id}, nil
}

func (r Ref) String() string { return r.Collection + "/" + r.ID }

// Order sorts a collection by one field. Fields compare as strings, which
// orders the persisted ISO timestamps chronologically. Documents missing the
// field sort after all others in either direction.
type Order struct {
	Field      string
	Descending bool
}

// Apply sorts docs in place. Ties keep their document ID order so snapshots
// are deterministic.
func (o Order) Apply(docs []Document) {
	if o.Field == "" {
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, aok := docs[i].Fields[o.Field].(string)
		b, bok := docs[j].Fields[o.Field].(string)
		switch {
		case aok != bok:
			return aok
		case a == b:
			return docs[i].ID < docs[j].ID
		case o.Descending:
			return a > b
		default:
			return a < b
		}
	})
}

// Snapshot is an immutable ordered view of one collection.
type Snapshot struct {
	Collection string
	Docs       []Document
	TakenAt    time.Time
}

// Len returns the number of documents.
func (s Snapshot) Len() int { return len(s.Docs) }
