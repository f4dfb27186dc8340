package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestServiceCreateAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	storage, err := NewFileStorage(tmpDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	service := NewService(storage, "1.0.0")

	snap := &Snapshot{
		Instance: "relay-test",
		Rooms: map[string][]json.RawMessage{
			"room-1": {
				json.RawMessage(`{"type":"transcription","data":{"text":"first"}}`),
				json.RawMessage(`{"type":"transcription","data":{"text":"second"}}`),
			},
		},
		Metadata: map[string]interface{}{"trigger": "test"},
	}

	name, err := service.Create(context.Background(), snap)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	if name == "" {
		t.Error("expected non-empty archive name")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, name)); os.IsNotExist(err) {
		t.Errorf("archive file does not exist: %s", name)
	}

	loaded, err := service.Load(context.Background(), name)
	if err != nil {
		t.Fatalf("failed to load archive: %v", err)
	}

	if loaded.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", loaded.Version)
	}
	if loaded.Timestamp.IsZero() {
		t.Error("expected stamped timestamp")
	}
	if loaded.Instance != "relay-test" {
		t.Errorf("expected instance 'relay-test', got '%s'", loaded.Instance)
	}
	if len(loaded.Rooms["room-1"]) != 2 {
		t.Fatalf("expected 2 events for room-1, got %d", len(loaded.Rooms["room-1"]))
	}
}

func TestServiceListAndDelete(t *testing.T) {
	tmpDir := t.TempDir()
	storage, err := NewFileStorage(tmpDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	service := NewService(storage, "1.0.0")

	name, err := service.Create(context.Background(), &Snapshot{})
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}

	names, err := service.List(context.Background())
	if err != nil {
		t.Fatalf("failed to list archives: %v", err)
	}
	if len(names) != 1 || names[0] != name {
		t.Errorf("expected [%s], got %v", name, names)
	}

	if err := service.Delete(context.Background(), name); err != nil {
		t.Fatalf("failed to delete archive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, name)); !os.IsNotExist(err) {
		t.Error("archive file should be deleted")
	}
}

func TestParseName(t *testing.T) {
	created, err := ParseName("history-20240315-120000.json")
	if err != nil {
		t.Fatalf("failed to parse valid name: %v", err)
	}
	want := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	if !created.Equal(want) {
		t.Errorf("expected %v, got %v", want, created)
	}

	if _, err := ParseName("notes.txt"); err == nil {
		t.Error("expected error for non-archive name")
	}
	if _, err := ParseName("history-garbage.json"); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}

func TestFileStorageListFiltersPrefix(t *testing.T) {
	tmpDir := t.TempDir()
	storage, err := NewFileStorage(tmpDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	for _, name := range []string{"history-20240101-000000.json", "readme.txt"} {
		if err := storage.Save(context.Background(), name, bytes.NewReader([]byte("x"))); err != nil {
			t.Fatalf("failed to save %s: %v", name, err)
		}
	}

	names, err := storage.List(context.Background(), "history-")
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(names) != 1 || names[0] != "history-20240101-000000.json" {
		t.Errorf("expected only the archive file, got %v", names)
	}
}
