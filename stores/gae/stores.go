//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"
)

// Store implements anyauth.CredentialStore on Cloud Datastore.
type Store struct {
	client    *datastore.Client
	namespace string
	ctx       context.Context
}

// New builds a store over client. An empty namespace uses the default
// Datastore namespace.
func New(client *datastore.Client, namespace string) *Store {
	return &Store{
		client:    client,
		namespace: namespace,
		ctx:       context.Background(),
	}
}

// WithContext returns a copy of the store whose calls run under ctx.
func (s *Store) WithContext(ctx context.Context) *Store {
	clone := *s
	clone.ctx = ctx
	return &clone
}

func (s *Store) recordKey(key string) *datastore.Key {
	k := datastore.NameKey(kindAuthRecord, key, nil)
	k.Namespace = s.namespace
	return k
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	var record AuthRecord
	err := s.client.Get(s.ctx, s.recordKey(key), &record)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("datastore get failed: %w", err)
	}
	return record.Value, true, nil
}

// Set upserts the record for key.
func (s *Store) Set(key, value string) error {
	record := &AuthRecord{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	if _, err := s.client.Put(s.ctx, s.recordKey(key), record); err != nil {
		return fmt.Errorf("datastore put failed: %w", err)
	}
	return nil
}

// Remove deletes the record for key. Removing an absent key is not an
// error.
func (s *Store) Remove(key string) error {
	err := s.client.Delete(s.ctx, s.recordKey(key))
	if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
		return fmt.Errorf("datastore delete failed: %w", err)
	}
	return nil
}

// Clear deletes every record in the store's namespace, batching deletes
// to stay under the Datastore mutation limit.
func (s *Store) Clear() error {
	query := datastore.NewQuery(kindAuthRecord).Namespace(s.namespace).KeysOnly()
	it := s.client.Run(s.ctx, query)

	const batchSize = 500
	var batch []*datastore.Key
	for {
		key, err := it.Next(nil)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("datastore query failed: %w", err)
		}
		batch = append(batch, key)
		if len(batch) == batchSize {
			if err := s.client.DeleteMulti(s.ctx, batch); err != nil {
				return fmt.Errorf("datastore delete failed: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := s.client.DeleteMulti(s.ctx, batch); err != nil {
			return fmt.Errorf("datastore delete failed: %w", err)
		}
	}
	return nil
}
