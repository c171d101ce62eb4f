package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultSession: "work",
		Server:         Server{WSURL: "wss://chat.example.com/ws", APIURL: "https://chat.example.com/api"},
		Auth:           Auth{Token: "tok", UserID: "u1", Nickname: "One"},
		Socket:         Socket{Backend: "coder"},
		Tuning:         Tuning{HeartbeatIntervalSec: 20, QueuePassDelayMS: 80},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Server.WSURL != cfg.Server.WSURL || loaded.Auth.Token != "tok" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
	if loaded.Socket.Backend != "coder" {
		t.Errorf("backend = %q", loaded.Socket.Backend)
	}
	if loaded.Tuning.HeartbeatInterval() != 20*time.Second {
		t.Errorf("heartbeat interval = %v", loaded.Tuning.HeartbeatInterval())
	}
	if loaded.Tuning.QueuePassDelay() != 80*time.Millisecond {
		t.Errorf("pass delay = %v", loaded.Tuning.QueuePassDelay())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestTuningZeroFallsBack(t *testing.T) {
	var tn Tuning
	if tn.HeartbeatInterval() != 0 || tn.QueuePassDelay() != 0 {
		t.Error("zero tuning should yield zero durations")
	}
}
