package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"clip.WAV":           "wav",
		"dir/track.mp3":      "mp3",
		"archive.tar.flac":   "flac",
		"noext":              "",
		"/abs/path/file.M4A": "m4a",
	}
	for in, want := range tests {
		if got := Extension(in); got != want {
			t.Errorf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"engine idle.wav", "engine_idle.wav"},
		{"../../etc/passwd", "passwd"},
		{`C:\\uploads\\brake.mp3`, "brake.mp3"},
		{"..", "upload"},
		{"", "upload"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "sub", "b.txt")

	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := MakeDir(filepath.Dir(dst)); err != nil {
		t.Fatal(err)
	}
	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile failed: %v", err)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("destination missing: %v", err)
	}
	if err := MoveFile(src, dst); err == nil {
		t.Error("expected error moving a missing file")
	}
}

func TestGenerateUUID(t *testing.T) {
	a, b := GenerateUUID(), GenerateUUID()
	if a == b {
		t.Error("expected distinct UUIDs")
	}
	if !IsUUID(a) || IsUUID("not-a-uuid") {
		t.Error("IsUUID misclassified input")
	}
}
