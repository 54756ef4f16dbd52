// Package idgen generates the lexicographically sortable ids used for
// cells, queue entries, sessions, and outputs.
package idgen

import "github.com/oklog/ulid/v2"

// New returns a new ULID string, grounded on the teacher's own
// ulid.Make().String() id-generation calls.
func New() string {
	return ulid.Make().String()
}
