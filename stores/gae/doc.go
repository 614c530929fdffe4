//go:build !wasm
// +build !wasm

// Package gae persists auth records in Google Cloud Datastore, for
// services deployed on Google Cloud that share sessions across
// instances. Multi-tenancy comes from Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses one kind:
//   - AuthRecord: key/value records written by the auth layer
//
// # Namespacing
//
// Pass a namespace when creating the store to isolate tenants:
//
//	store := gae.New(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.New(client, "")  // default namespace
//	manager := anyauth.New(&anyauth.Config{Store: store})
package gae
