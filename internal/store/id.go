package store

import "github.com/oklog/ulid/v2"

// newRecordID returns a time-ordered unique record id.
func newRecordID() string {
	return ulid.Make().String()
}
