//go:build !wasm
// +build !wasm

package gorm

import (
	"time"
)

// AuthRecord is one namespaced key/value row. Values are opaque JSON
// strings written by the auth layer; the database never interprets them.
type AuthRecord struct {
	Namespace string `gorm:"primaryKey;size:128"`
	Key       string `gorm:"primaryKey;size:256"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// TableName keeps the table name stable across GORM naming strategies.
func (AuthRecord) TableName() string { return "auth_records" }
