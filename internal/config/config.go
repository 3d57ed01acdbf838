package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
)

// Config is the root configuration structure for the application.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Transport TransportConfig `mapstructure:"transport"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Store     StoreConfig     `mapstructure:"store"`
	Login     LoginConfig     `mapstructure:"login"`
	Humanoid  HumanoidConfig  `mapstructure:"humanoid"`
}

// ColorConfig defines per-level colors for console log output.
type ColorConfig struct {
	Debug string `mapstructure:"debug"`
	Info  string `mapstructure:"info"`
	Warn  string `mapstructure:"warn"`
	Error string `mapstructure:"error"`
	Fatal string `mapstructure:"fatal"`
}

// LoggerConfig holds all configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// TransportConfig holds settings for the anonymizing transport gate.
type TransportConfig struct {
	// Binary is the tor executable to spawn. Empty means an external tor
	// instance is already listening on SocksPort and the gate only verifies.
	Binary      string `mapstructure:"binary"`
	DataDir     string `mapstructure:"data_dir"`
	SocksPort   int    `mapstructure:"socks_port"`
	ControlPort int    `mapstructure:"control_port"`
	// PollInterval is the fixed delay between listener probes.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// ListenRetries bounds the port-listen phase; exhausting it is Failed.
	ListenRetries int `mapstructure:"listen_retries"`
	// EgressRetries bounds the egress-test phase; exhausting it is Degraded.
	EgressRetries int           `mapstructure:"egress_retries"`
	EgressURL     string        `mapstructure:"egress_url"`
	EgressTimeout time.Duration `mapstructure:"egress_timeout"`
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors"`
	Args            []string `mapstructure:"args"`
	UserAgent       string   `mapstructure:"user_agent"`
	// NavigationTimeout bounds a single Navigate call.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
}

// StoreConfig holds settings for the session artifact store.
type StoreConfig struct {
	// DataDir is where per-identity artifact files live. "~" expands to the
	// user's home directory.
	DataDir string `mapstructure:"data_dir"`
	// ExpiryBuffer treats entries expiring within the buffer as already
	// expired, so a session is never restored on the edge of invalidation.
	ExpiryBuffer time.Duration `mapstructure:"expiry_buffer"`
}

// LoginConfig holds tuning for the login state machine. The state machine
// shape and failure taxonomy are fixed; every timeout and retry count here
// is operational tuning.
type LoginConfig struct {
	LoginURL string `mapstructure:"login_url"`
	HomeURL  string `mapstructure:"home_url"`
	// StageTimeout bounds the wait for a stage's expected page markers.
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	// OptionalStageTimeout bounds the probe for stages the site may skip
	// (checkpoint challenge, two-factor prompt). Kept short on purpose.
	OptionalStageTimeout time.Duration `mapstructure:"optional_stage_timeout"`
	// MarkerPollInterval is the delay between marker probes within a stage.
	MarkerPollInterval time.Duration `mapstructure:"marker_poll_interval"`
	// StageRetries bounds recoverable retries of a single stage.
	StageRetries int `mapstructure:"stage_retries"`
	// AttemptTimeout bounds the whole login attempt end to end.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	// TwoFactorWindow bounds the manual two-factor entry wait.
	TwoFactorWindow time.Duration `mapstructure:"two_factor_window"`
}

// HumanoidConfig holds the bounded distributions the interaction simulator
// draws from.
type HumanoidConfig struct {
	// Seed makes plans reproducible when non-zero. Zero seeds from the clock.
	Seed int64 `mapstructure:"seed"`

	KeystrokeMean   time.Duration `mapstructure:"keystroke_mean"`
	KeystrokeStddev time.Duration `mapstructure:"keystroke_stddev"`
	KeystrokeMin    time.Duration `mapstructure:"keystroke_min"`
	KeystrokeMax    time.Duration `mapstructure:"keystroke_max"`

	PointerStepInterval time.Duration `mapstructure:"pointer_step_interval"`
	PointerDriftPx      float64       `mapstructure:"pointer_drift_px"`

	PauseShortMin      time.Duration `mapstructure:"pause_short_min"`
	PauseShortMax      time.Duration `mapstructure:"pause_short_max"`
	PauseActionMin     time.Duration `mapstructure:"pause_action_min"`
	PauseActionMax     time.Duration `mapstructure:"pause_action_max"`
	PauseNavigationMin time.Duration `mapstructure:"pause_navigation_min"`
	PauseNavigationMax time.Duration `mapstructure:"pause_navigation_max"`
	PauseRetryMin      time.Duration `mapstructure:"pause_retry_min"`
	PauseRetryMax      time.Duration `mapstructure:"pause_retry_max"`
}

// SetDefaults registers default values so the app can run with a minimal
// config file, or none at all.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "torx")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "red")

	v.SetDefault("transport.binary", "tor")
	v.SetDefault("transport.data_dir", "~/.torx/tor")
	v.SetDefault("transport.socks_port", 9050)
	v.SetDefault("transport.control_port", 9051)
	v.SetDefault("transport.poll_interval", 2*time.Second)
	v.SetDefault("transport.listen_retries", 30)
	v.SetDefault("transport.egress_retries", 3)
	v.SetDefault("transport.egress_url", "https://check.torproject.org/api/ip")
	v.SetDefault("transport.egress_timeout", 30*time.Second)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 45*time.Second)

	v.SetDefault("store.data_dir", "~/.torx/sessions")
	v.SetDefault("store.expiry_buffer", 5*time.Minute)

	v.SetDefault("login.login_url", "https://x.com/i/flow/login")
	v.SetDefault("login.home_url", "https://x.com/home")
	v.SetDefault("login.stage_timeout", 30*time.Second)
	v.SetDefault("login.optional_stage_timeout", 5*time.Second)
	v.SetDefault("login.marker_poll_interval", 500*time.Millisecond)
	v.SetDefault("login.stage_retries", 3)
	v.SetDefault("login.attempt_timeout", 5*time.Minute)
	v.SetDefault("login.two_factor_window", 2*time.Minute)

	v.SetDefault("humanoid.keystroke_mean", 100*time.Millisecond)
	v.SetDefault("humanoid.keystroke_stddev", 40*time.Millisecond)
	v.SetDefault("humanoid.keystroke_min", 30*time.Millisecond)
	v.SetDefault("humanoid.keystroke_max", 350*time.Millisecond)
	v.SetDefault("humanoid.pointer_step_interval", 8*time.Millisecond)
	v.SetDefault("humanoid.pointer_drift_px", 2.5)
	v.SetDefault("humanoid.pause_short_min", 500*time.Millisecond)
	v.SetDefault("humanoid.pause_short_max", 1500*time.Millisecond)
	v.SetDefault("humanoid.pause_action_min", 100*time.Millisecond)
	v.SetDefault("humanoid.pause_action_max", 300*time.Millisecond)
	v.SetDefault("humanoid.pause_navigation_min", 2*time.Second)
	v.SetDefault("humanoid.pause_navigation_max", 4*time.Second)
	v.SetDefault("humanoid.pause_retry_min", 2*time.Second)
	v.SetDefault("humanoid.pause_retry_max", 5*time.Second)
}

// Validate checks invariants the rest of the code relies on.
func (c *Config) Validate() error {
	if c.Transport.SocksPort <= 0 || c.Transport.SocksPort > 65535 {
		return fmt.Errorf("transport.socks_port %d out of range", c.Transport.SocksPort)
	}
	if c.Transport.ListenRetries <= 0 {
		return fmt.Errorf("transport.listen_retries must be positive")
	}
	if c.Transport.EgressRetries <= 0 {
		return fmt.Errorf("transport.egress_retries must be positive")
	}
	if c.Login.StageRetries <= 0 {
		return fmt.Errorf("login.stage_retries must be positive")
	}
	if c.Login.TwoFactorWindow <= 0 {
		return fmt.Errorf("login.two_factor_window must be positive")
	}
	if c.Humanoid.KeystrokeMin > c.Humanoid.KeystrokeMax {
		return fmt.Errorf("humanoid.keystroke_min exceeds keystroke_max")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir must be set")
	}
	return nil
}

// ExpandPaths resolves "~" prefixes in directory settings.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Store.DataDir, &c.Transport.DataDir, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding path %q: %w", *p, err)
		}
		*p = filepath.Clean(expanded)
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	var loadErr error
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		if err := cfg.ExpandPaths(); err != nil {
			loadErr = err
			return
		}
		if err := cfg.Validate(); err != nil {
			loadErr = err
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
