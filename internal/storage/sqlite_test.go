package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Helper function to create a temporary test database
func setupTestDB(t *testing.T) (*DBClient, string) {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test_audion.sqlite3")
	t.Setenv("AUDION_DB_PATH", dbPath)

	client, err := NewDBClient()
	if err != nil {
		t.Fatalf("Failed to create test DB client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	return client, dbPath
}

func newMatchRun(created time.Time) *Run {
	return &Run{
		Kind:           KindMatch,
		TestCount:      2,
		ReferenceCount: 2,
		TotalScore:     1.7,
		Payload:        `{"total_score":1.7}`,
		CreatedAt:      created,
		Clips: []RunClip{
			{Role: RoleReference, Position: 1, Name: "y.wav", SampleRate: 16000, DurationSec: 1},
			{Role: RoleTest, Position: 0, Name: "a.wav", SampleRate: 16000, DurationSec: 1.5},
			{Role: RoleReference, Position: 0, Name: "x.wav", SampleRate: 16000, DurationSec: 2},
			{Role: RoleTest, Position: 1, Name: "b.wav", SampleRate: 8000, DurationSec: 0.5},
		},
	}
}

func TestNewDBClient(t *testing.T) {
	client, dbPath := setupTestDB(t)

	if client.DB == nil || client.db == nil {
		t.Fatal("Expected non-nil database handles")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("Database file was not created at %s", dbPath)
	}
	if !client.DB.Migrator().HasTable(&Run{}) || !client.DB.Migrator().HasTable(&RunClip{}) {
		t.Error("Expected runs and run_clips tables to exist")
	}
}

func TestSaveAndGetRun(t *testing.T) {
	client, _ := setupTestDB(t)

	id, err := client.SaveRun(newMatchRun(time.Now()))
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected generated run ID")
	}

	run, err := client.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Kind != KindMatch || run.TotalScore != 1.7 || run.Payload == "" {
		t.Errorf("Unexpected run: %+v", run)
	}

	want := []string{"a.wav", "b.wav", "x.wav", "y.wav"}
	if len(run.Clips) != len(want) {
		t.Fatalf("Expected %d clips, got %d", len(want), len(run.Clips))
	}
	for i, name := range want {
		if run.Clips[i].Name != name {
			t.Errorf("Clip %d: expected %s, got %s", i, name, run.Clips[i].Name)
		}
	}
}

func TestGetRunNotFound(t *testing.T) {
	client, _ := setupTestDB(t)

	_, err := client.GetRun("00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	client, _ := setupTestDB(t)

	base := time.Now().Add(-time.Hour)
	older, _ := client.SaveRun(newMatchRun(base))
	newer, _ := client.SaveRun(newMatchRun(base.Add(time.Minute)))
	if _, err := client.SaveRun(&Run{Kind: KindAnalyze, TestCount: 1, CreatedAt: base.Add(2 * time.Minute)}); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	runs, err := client.ListRuns(KindMatch, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 match runs, got %d", len(runs))
	}
	if runs[0].ID != newer || runs[1].ID != older {
		t.Errorf("Expected newest first, got %s, %s", runs[0].ID, runs[1].ID)
	}
	if runs[0].Payload != "" {
		t.Error("ListRuns should not load payloads")
	}

	all, err := client.ListRuns("", 1)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 1 || all[0].Kind != KindAnalyze {
		t.Errorf("Expected only the newest analyze run, got %+v", all)
	}

	n, err := client.CountRuns()
	if err != nil || n != 3 {
		t.Errorf("CountRuns = %d, %v; want 3", n, err)
	}
}

func TestDeleteRun(t *testing.T) {
	client, _ := setupTestDB(t)

	id, err := client.SaveRun(newMatchRun(time.Now()))
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	if err := client.DeleteRun(id); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := client.GetRun(id); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected run to be gone, got %v", err)
	}

	var clips int64
	client.DB.Model(&RunClip{}).Where("run_id = ?", id).Count(&clips)
	if clips != 0 {
		t.Errorf("Expected clips to be deleted, found %d", clips)
	}

	if err := client.DeleteRun(id); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound on second delete, got %v", err)
	}
}

func TestNilClient(t *testing.T) {
	var client *DBClient

	if _, err := client.SaveRun(&Run{}); err == nil {
		t.Error("Expected error from nil client")
	}
	if _, err := client.ListRuns("", 0); err == nil {
		t.Error("Expected error from nil client")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close on nil client should be a no-op, got %v", err)
	}
}
