package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Garden   GardenConfig      `yaml:"garden"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Dispatch DispatchConfig    `yaml:"dispatch"`
	Backups  BackupsConfig     `yaml:"backups"`
	Health   HealthConfig      `yaml:"health"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Garden.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	if err := c.Backups.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
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

// GardenConfig holds the path to the garden content directory.
type GardenConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the garden configuration.
func (c *GardenConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// DispatchConfig holds event dispatcher configuration.
//
// Mode controls how listeners execute once the durable log row is written:
//   - "async" (default): a bounded worker pool.
//   - "sync": inline with the dispatch call; used by tests and debugging.
type DispatchConfig struct {
	Mode       string        `yaml:"mode"`
	Workers    int64         `yaml:"workers"`
	MaxRetries int           `yaml:"max_retries"`
	TaskWait   time.Duration `yaml:"task_wait"`
}

// Validate validates the dispatcher configuration.
func (c *DispatchConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = "async"
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In("sync", "async")),
		validation.Field(&c.Workers, validation.Min(int64(0))),
		validation.Field(&c.MaxRetries, validation.Min(0)),
	)
}

// BackupsConfig holds backup retention configuration.
type BackupsConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
	Max    int    `yaml:"max"`
}

// Validate validates the backups configuration.
func (c *BackupsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.Max, validation.Min(0)),
	)
}

// HealthConfig holds thresholds for the advisory garden-health pass.
type HealthConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after"`
	PromoteDegree int           `yaml:"promote_degree"`
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
	// Normalise empty mode to "disabled" for backward compatibility.
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

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Garden: GardenConfig{
			Path: "./garden",
		},
		SQLite: SQLiteConfig{
			Path: "./berkano.db",
		},
		Dispatch: DispatchConfig{
			Mode:       "async",
			Workers:    4,
			MaxRetries: 3,
			TaskWait:   5 * time.Second,
		},
		Backups: BackupsConfig{
			Dir:    "./backups",
			Prefix: "berkano",
			Max:    5,
		},
		Health: HealthConfig{
			StaleAfter:    30 * 24 * time.Hour,
			PromoteDegree: 5,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
