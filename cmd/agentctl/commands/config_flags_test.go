package commands

import (
	"testing"
	"time"
)

func resetFlags() {
	flagNotebook = ""
	flagAuthToken = ""
	flagSyncURL = ""
	flagRuntimeID = ""
	flagRuntimeType = ""
	flagHeartbeatMillis = 0
}

func TestLoadConfigRequiresNotebook(t *testing.T) {
	resetFlags()
	t.Cleanup(resetFlags)

	flagAuthToken = "tok"
	if _, err := loadConfig(t.TempDir()); err == nil {
		t.Fatal("expected an error when --notebook is unset")
	}
}

func TestLoadConfigRequiresAuthToken(t *testing.T) {
	resetFlags()
	t.Cleanup(resetFlags)

	flagNotebook = "nb-1"
	if _, err := loadConfig(t.TempDir()); err == nil {
		t.Fatal("expected an error when --auth-token is unset")
	}
}

func TestLoadConfigAppliesFlagsOverConfigDefaults(t *testing.T) {
	resetFlags()
	t.Cleanup(resetFlags)

	flagNotebook = "nb-1"
	flagAuthToken = "tok"
	flagSyncURL = "https://sync.example/nb-1"
	flagRuntimeID = "runtime-7"
	flagRuntimeType = "python"
	flagHeartbeatMillis = 5000

	cfg, err := loadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.NotebookID != "nb-1" || cfg.AuthToken != "tok" {
		t.Fatalf("unexpected required fields: %+v", cfg)
	}
	if cfg.SyncURL != "https://sync.example/nb-1" {
		t.Fatalf("expected SyncURL override, got %q", cfg.SyncURL)
	}
	if cfg.RuntimeID != "runtime-7" || cfg.RuntimeType != "python" {
		t.Fatalf("expected runtime overrides, got %+v", cfg)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Fatalf("expected heartbeat override, got %s", cfg.HeartbeatInterval)
	}
}
