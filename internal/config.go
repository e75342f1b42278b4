package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/kenaz-backup/internal/models"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Live note store sources.
const (
	NotesSourceVault = "vault"
	NotesSourceHTTP  = "http"
)

// Local cache drivers.
const (
	LocalDriverSQLite = "sqlite"
	LocalDriverBadger = "badger"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Auth   AuthConfig        `yaml:"auth"`
	Vault  VaultConfig       `yaml:"vault"`
	Notes  NotesConfig       `yaml:"notes"`
	Remote RemoteConfig      `yaml:"remote"`
	Local  LocalConfig       `yaml:"local"`
	Media  MediaConfig       `yaml:"media"`
	Backup BackupConfig      `yaml:"backup"`
	Export ExportConfig      `yaml:"export"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Auth, &c.Notes, &c.Remote, &c.Local, &c.Media, &c.Backup, &c.Export,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if c.Notes.Source == NotesSourceVault {
		return c.Vault.Validate()
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// VaultConfig holds the path to the Markdown note directory used as the live
// note store when notes.source is "vault".
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// NotesConfig selects the live note store.
type NotesConfig struct {
	Source  string        `yaml:"source"`
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the note store configuration.
func (c *NotesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Source, validation.Required, validation.In(NotesSourceVault, NotesSourceHTTP)),
		validation.Field(&c.URL,
			validation.When(c.Source == NotesSourceHTTP, validation.Required, is.URL)),
	)
}

// RemoteConfig points at the remote backup primary. When disabled every
// backup is kept in the local cache.
type RemoteConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.When(c.Enabled, validation.Required, is.URL)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// LocalConfig selects the local cache backend.
type LocalConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
	BadgerPath string `yaml:"badger_path"`
}

// Validate validates the local cache configuration. The SQLite file is
// required with either driver since it also holds the history ledger.
func (c *LocalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(LocalDriverSQLite, LocalDriverBadger)),
		validation.Field(&c.SQLitePath, validation.Required),
		validation.Field(&c.BadgerPath, validation.When(c.Driver == LocalDriverBadger, validation.Required)),
	)
}

// MediaConfig configures media extraction and materialization.
type MediaConfig struct {
	Root              string        `yaml:"root"`
	Timeout           time.Duration `yaml:"timeout"`
	Workers           int           `yaml:"workers"`
	MaxSize           int64         `yaml:"max_size"`
	AllowPrivateHosts bool          `yaml:"allow_private_hosts"`
}

// Validate validates the media configuration.
func (c *MediaConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Workers, validation.Min(0), validation.Max(64)),
		validation.Field(&c.MaxSize, validation.Min(int64(0))),
	)
}

// BackupConfig configures the automatic backup policy.
type BackupConfig struct {
	SettingsPath string                `yaml:"settings_path"`
	Retention    int                   `yaml:"retention"`
	TickTimeout  time.Duration         `yaml:"tick_timeout"`
	Defaults     models.BackupSettings `yaml:"defaults"`
}

// Validate validates the backup configuration.
func (c *BackupConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.SettingsPath, validation.Required),
		validation.Field(&c.Retention, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("backup.defaults: %w", err)
	}
	return nil
}

// ExportConfig holds the directory exported archives are written to.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the export configuration.
func (c *ExportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		Notes: NotesConfig{
			Source:  NotesSourceVault,
			Timeout: 10 * time.Second,
		},
		Remote: RemoteConfig{
			Timeout: 10 * time.Second,
		},
		Local: LocalConfig{
			Driver:     LocalDriverSQLite,
			SQLitePath: "./data/kenaz-backup.db",
			BadgerPath: "./data/cache",
		},
		Media: MediaConfig{
			Root:    "./vault",
			Timeout: 30 * time.Second,
			Workers: 4,
			MaxSize: 25 << 20,
		},
		Backup: BackupConfig{
			SettingsPath: "./data/settings.yaml",
			Retention:    30,
			TickTimeout:  10 * time.Minute,
			Defaults:     models.DefaultBackupSettings(),
		},
		Export: ExportConfig{
			Dir: "./data/exports",
		},
	}
}
