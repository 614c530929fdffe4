//go:build !wasm
// +build !wasm

package gorm

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store implements anyauth.CredentialStore on a GORM-managed table.
type Store struct {
	db        *gorm.DB
	namespace string
}

// New builds a store over db and migrates its table. The namespace keeps
// multiple applications apart in the same database.
func New(db *gorm.DB, namespace string) (*Store, error) {
	if namespace == "" {
		namespace = "anyauth"
	}
	if err := db.AutoMigrate(&AuthRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate auth_records: %w", err)
	}
	return &Store{db: db, namespace: namespace}, nil
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	var record AuthRecord
	err := s.db.First(&record, "namespace = ? AND key = ?", s.namespace, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return record.Value, true, nil
}

// Set upserts the record for key.
func (s *Store) Set(key, value string) error {
	record := AuthRecord{
		Namespace: s.namespace,
		Key:       key,
		Value:     value,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error
}

// Remove deletes the record for key. Removing an absent key is not an
// error.
func (s *Store) Remove(key string) error {
	return s.db.Delete(&AuthRecord{}, "namespace = ? AND key = ?", s.namespace, key).Error
}

// Clear deletes every record in this store's namespace.
func (s *Store) Clear() error {
	return s.db.Delete(&AuthRecord{}, "namespace = ?", s.namespace).Error
}
