package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	namePrefix     = "history-"
	nameTimeFormat = "20060102-150405"
)

// Snapshot is one point-in-time capture of the relay's room event history.
// Events are stored as raw JSON, oldest first, so a replay appends them in
// history order.
type Snapshot struct {
	Version   string                       `json:"version"`
	Timestamp time.Time                    `json:"timestamp"`
	Instance  string                       `json:"instance,omitempty"`
	Rooms     map[string][]json.RawMessage `json:"rooms,omitempty"`
	Metadata  map[string]interface{}       `json:"metadata,omitempty"`
}

// Storage persists named snapshots.
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Service writes and reads history snapshots on a Storage backend.
type Service struct {
	storage Storage
	version string
}

func NewService(storage Storage, version string) *Service {
	return &Service{
		storage: storage,
		version: version,
	}
}

// Create stamps the snapshot and saves it under a timestamped name. Names
// carry the creation time in UTC.
func (s *Service) Create(ctx context.Context, snap *Snapshot) (string, error) {
	snap.Version = s.version
	snap.Timestamp = time.Now()

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := fmt.Sprintf("%s%s.json", namePrefix, snap.Timestamp.UTC().Format(nameTimeFormat))
	if err := s.storage.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save archive: %w", err)
	}
	return name, nil
}

// Load reads a snapshot back by name.
func (s *Service) Load(ctx context.Context, name string) (*Snapshot, error) {
	reader, err := s.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archive: %w", err)
	}
	return &snap, nil
}

// List returns the names of all stored snapshots. Names embed their creation
// time in a sortable format, so lexical order is chronological.
func (s *Service) List(ctx context.Context) ([]string, error) {
	return s.storage.List(ctx, namePrefix)
}

func (s *Service) Delete(ctx context.Context, name string) error {
	return s.storage.Delete(ctx, name)
}

// ParseName extracts the creation time encoded in an archive name. The
// returned time is UTC.
func ParseName(name string) (time.Time, error) {
	base := strings.TrimSuffix(name, ".json")
	if !strings.HasPrefix(base, namePrefix) {
		return time.Time{}, fmt.Errorf("not an archive name: %s", name)
	}
	return time.Parse(nameTimeFormat, strings.TrimPrefix(base, namePrefix))
}
