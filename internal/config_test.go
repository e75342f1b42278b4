package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestNotesConfig_HTTPRequiresURL(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Notes.Source = NotesSourceHTTP
	cfg.Vault.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("http source without url should fail")
	}
	cfg.Notes.URL = "http://notes.local:9000/api"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("http source with url should pass without vault: %v", err)
	}
}

func TestRemoteConfig_EnabledRequiresURL(t *testing.T) {
	cfg := RemoteConfig{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled remote without url should fail")
	}
	cfg.URL = "https://backups.example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("enabled remote with url should pass: %v", err)
	}
	if err := (&RemoteConfig{}).Validate(); err != nil {
		t.Fatalf("disabled remote should pass: %v", err)
	}
}

func TestLocalConfig_Drivers(t *testing.T) {
	cases := []struct {
		name    string
		cfg     LocalConfig
		wantErr bool
	}{
		{"sqlite", LocalConfig{Driver: LocalDriverSQLite, SQLitePath: "a.db"}, false},
		{"badger", LocalConfig{Driver: LocalDriverBadger, SQLitePath: "a.db", BadgerPath: "cache"}, false},
		{"badger without path", LocalConfig{Driver: LocalDriverBadger, SQLitePath: "a.db"}, true},
		{"no sqlite path", LocalConfig{Driver: LocalDriverBadger, BadgerPath: "cache"}, true},
		{"unknown driver", LocalConfig{Driver: "bolt", SQLitePath: "a.db"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestBackupConfig_InvalidDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Backup.Defaults.BackupIntervalMinutes = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "backup.defaults") {
		t.Fatalf("expected backup.defaults error, got %v", err)
	}
}
