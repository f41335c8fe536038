// Package entity holds the storage shape shared by the cache, its stores and
// its table sources.
//
// An owner Document is a two-level mapping:
//
//	<owner>                      - store key (outer)
//	  <definition namespace>     - Document key (inner)
//	    entities: <key> -> Row   - Scaffold
//
// Rows are keyed by the string form of their key field value.
package entity

import "time"

// Row is one record of a reference table. A nil Row is the missing sentinel
// returned by lookups.
type Row map[string]any

// Missing is the lookup result for a key that is not cached.
var Missing Row

// Entities maps key field values to rows.
type Entities map[string]Row

// Scaffold is the fixed-shape record stored under a definition namespace.
// Fields next to Entities are metadata and may grow without a format change.
type Scaffold struct {
	Entities  Entities  `json:"entities" cbor:"entities" msgpack:"entities"`
	Condition string    `json:"condition,omitempty" cbor:"condition,omitempty" msgpack:"condition,omitempty"`
	Gen       uint64    `json:"gen,omitempty" cbor:"gen,omitempty" msgpack:"gen,omitempty"`
	FilledAt  time.Time `json:"filledAt,omitempty" cbor:"filledAt,omitempty" msgpack:"filledAt,omitempty"`
}

// Document is the full cached state of one owner.
type Document map[string]Scaffold

// Clone returns a copy of d whose top-level map can be mutated independently.
// Scaffolds and rows are shared.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for ns, s := range d {
		out[ns] = s
	}
	return out
}

// Len reports the number of entities cached under ns.
func (d Document) Len(ns string) int {
	return len(d[ns].Entities)
}
