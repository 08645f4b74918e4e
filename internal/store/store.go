// Package store persists the session snapshot.
package store

import (
	"encoding/json"

	"github.com/pkg/errors"

	"LegSentinel/internal/model"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("snapshot not found")

// Store saves and loads the session snapshot.
type Store interface {
	Save(s *model.Snapshot) error
	Load() (*model.Snapshot, error)
	Close() error
}

func encode(s *model.Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode snapshot")
	}
	return data, nil
}

func decode(data []byte) (*model.Snapshot, error) {
	var s model.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	s.Normalize()
	return &s, nil
}
