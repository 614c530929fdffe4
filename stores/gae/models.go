//go:build !wasm
// +build !wasm

package gae

import (
	"time"
)

const kindAuthRecord = "AuthRecord"

// AuthRecord is one key/value entity. Values are opaque JSON strings
// written by the auth layer and excluded from indexing since they carry
// tokens and can exceed the indexed-property size limit.
type AuthRecord struct {
	Key       string    `datastore:"key"`
	Value     string    `datastore:"value,noindex"`
	UpdatedAt time.Time `datastore:"updated_at"`
}
