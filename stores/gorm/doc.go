//go:build !wasm
// +build !wasm

// Package gorm persists auth records in a relational database through
// GORM. It suits server-side deployments where sessions must survive
// restarts and be shared across instances, on any database GORM
// supports (PostgreSQL, MySQL, SQLite, etc.).
//
// # Database Schema
//
// The package auto-migrates one table:
//   - auth_records: namespaced key/value records (credentials, users,
//     transient flow state)
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	store, _ := gormstore.New(db, "myapp")
//	manager := anyauth.New(&anyauth.Config{Store: store})
package gorm
