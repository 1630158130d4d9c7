package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants for the inspection server
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Store backends
	StoreWebDAV = "webdav"
	StoreS3     = "s3"
	StoreAzure  = "azblob"
	StoreGCS    = "gcs"

	// Default values
	DefaultPort            = 8080
	DefaultHost            = "127.0.0.1"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultMaxFileSize     = 50 * 1024 * 1024 // 50MB
	DefaultPollInterval    = 10 * time.Second
	DefaultDocumentTimeout = 5 * time.Minute
	DefaultRegistryTimeout = 30 * time.Second
	DefaultStoreBaseDir    = "Einsaetze"
	DefaultEnvFile         = ".env"

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "DISPATCH"
)

// ErrVersionRequested is returned by LoadFromFlags when --version was given.
var ErrVersionRequested = errors.New("version requested")

// Config holds all configuration of dispatch-sync and dispatch-inspect
type Config struct {
	// Intake and local state
	SpoolDir        string
	CacheDir        string
	PollInterval    time.Duration
	DocumentTimeout time.Duration
	HeartbeatURL    string

	// Registry
	RegistryURL      string
	RegistryUser     string
	RegistryPassword string `masq:"secret"`
	RegistryTimeout  time.Duration

	// Ledger store
	Store                  string
	StoreBaseDir           string
	WebDAVURL              string
	WebDAVUser             string
	WebDAVPassword         string `masq:"secret"`
	S3Bucket               string
	S3Region               string
	AzblobConnectionString string `masq:"secret"`
	AzblobContainer        string
	GCSBucket              string

	// Notifications
	SlackWebhookURL string `masq:"secret"`

	// Extraction
	LayoutFile  string
	MaxFileSize int64 // Maximum PDF file size in bytes

	// Inspection server
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Application configuration
	Version   string
	LogLevel  string
	LogFormat string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	stateDir, err := os.UserCacheDir()
	if err != nil {
		stateDir = os.TempDir()
	}
	stateDir = filepath.Join(stateDir, "dispatch-sync")

	return &Config{
		SpoolDir:        filepath.Join(stateDir, "spool"),
		CacheDir:        filepath.Join(stateDir, "cache"),
		PollInterval:    DefaultPollInterval,
		DocumentTimeout: DefaultDocumentTimeout,
		RegistryTimeout: DefaultRegistryTimeout,
		Store:           StoreWebDAV,
		StoreBaseDir:    DefaultStoreBaseDir,
		MaxFileSize:     DefaultMaxFileSize,
		Mode:            ModeStdio,
		Host:            DefaultHost,
		Port:            DefaultPort,
		Version:         "dev",
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
	}
}

// flagSpec describes one configuration key.
type flagSpec struct {
	name  string
	usage string
}

var flagSpecs = []flagSpec{
	{"spool-dir", "Directory the mail transport drops attachments into"},
	{"cache-dir", "Local cache of ledger entries and fetched Inbox scans"},
	{"poll-interval", "Time between two poll cycles"},
	{"document-timeout", "Upper bound for processing a single document"},
	{"heartbeat-url", "URL requested with GET after every cycle"},
	{"registry-url", "Base URL of the incident registry"},
	{"registry-user", "Registry login name"},
	{"registry-password", "Registry password"},
	{"registry-timeout", "Timeout of a single registry request"},
	{"store", "Ledger store backend: webdav, s3, azblob or gcs"},
	{"store-basedir", "Directory below the store root holding the case directories"},
	{"webdav-url", "WebDAV server URL"},
	{"webdav-user", "WebDAV user"},
	{"webdav-password", "WebDAV password"},
	{"s3-bucket", "S3 bucket"},
	{"s3-region", "S3 region"},
	{"azblob-connection-string", "Azure storage connection string"},
	{"azblob-container", "Azure blob container"},
	{"gcs-bucket", "Google Cloud Storage bucket"},
	{"slack-webhook-url", "Slack incoming webhook; notifications are only logged when empty"},
	{"layout-file", "YAML file overriding the built-in field layouts"},
	{"max-file-size", "Maximum PDF file size in bytes"},
	{"mode", "Inspection server mode: 'stdio' or 'server'"},
	{"host", "Inspection server host address (server mode only)"},
	{"port", "Inspection server port (server mode only)"},
	{"log-level", "Log level (debug, info, warn, error)"},
	{"log-format", "Log format (console, json)"},
	{"env-file", "Optional dotenv file read before the environment"},
}

// LoadFromFlags parses command line flags, the environment and an optional
// dotenv file, and returns a validated configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	if err := loadEnvFile(viper.GetString("env-file")); err != nil {
		return nil, err
	}

	populateConfigFromViper(cfg)

	for _, dir := range []*string{&cfg.SpoolDir, &cfg.CacheDir} {
		if abs, err := filepath.Abs(*dir); err == nil {
			*dir = abs
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	// DISPATCH_REGISTRY_URL for registry-url
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("spool-dir", cfg.SpoolDir)
	viper.SetDefault("cache-dir", cfg.CacheDir)
	viper.SetDefault("poll-interval", cfg.PollInterval)
	viper.SetDefault("document-timeout", cfg.DocumentTimeout)
	viper.SetDefault("registry-timeout", cfg.RegistryTimeout)
	viper.SetDefault("store", cfg.Store)
	viper.SetDefault("store-basedir", cfg.StoreBaseDir)
	viper.SetDefault("max-file-size", cfg.MaxFileSize)
	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("log-level", cfg.LogLevel)
	viper.SetDefault("log-format", cfg.LogFormat)
	viper.SetDefault("env-file", DefaultEnvFile)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	usage := make(map[string]string, len(flagSpecs))
	for _, f := range flagSpecs {
		usage[f.name] = f.usage
	}

	pflag.String("spool-dir", cfg.SpoolDir, usage["spool-dir"])
	pflag.String("cache-dir", cfg.CacheDir, usage["cache-dir"])
	pflag.Duration("poll-interval", cfg.PollInterval, usage["poll-interval"])
	pflag.Duration("document-timeout", cfg.DocumentTimeout, usage["document-timeout"])
	pflag.String("heartbeat-url", "", usage["heartbeat-url"])
	pflag.String("registry-url", "", usage["registry-url"])
	pflag.String("registry-user", "", usage["registry-user"])
	pflag.String("registry-password", "", usage["registry-password"])
	pflag.Duration("registry-timeout", cfg.RegistryTimeout, usage["registry-timeout"])
	pflag.String("store", cfg.Store, usage["store"])
	pflag.String("store-basedir", cfg.StoreBaseDir, usage["store-basedir"])
	pflag.String("webdav-url", "", usage["webdav-url"])
	pflag.String("webdav-user", "", usage["webdav-user"])
	pflag.String("webdav-password", "", usage["webdav-password"])
	pflag.String("s3-bucket", "", usage["s3-bucket"])
	pflag.String("s3-region", "", usage["s3-region"])
	pflag.String("azblob-connection-string", "", usage["azblob-connection-string"])
	pflag.String("azblob-container", "", usage["azblob-container"])
	pflag.String("gcs-bucket", "", usage["gcs-bucket"])
	pflag.String("slack-webhook-url", "", usage["slack-webhook-url"])
	pflag.String("layout-file", "", usage["layout-file"])
	pflag.Int64("max-file-size", cfg.MaxFileSize, usage["max-file-size"])
	pflag.String("mode", cfg.Mode, usage["mode"])
	pflag.String("host", cfg.Host, usage["host"])
	pflag.Int("port", cfg.Port, usage["port"])
	pflag.String("log-level", cfg.LogLevel, usage["log-level"])
	pflag.String("log-format", cfg.LogFormat, usage["log-format"])
	pflag.String("env-file", DefaultEnvFile, usage["env-file"])
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, f := range flagSpecs {
		_ = viper.BindPFlag(f.name, pflag.Lookup(f.name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nDispatch Sync - files dispatch documents into the incident registry\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --registry-url=https://registry.example/unit/index.php --webdav-url=https://dav.example\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --store=s3 --s3-bucket=dispatch --s3-region=eu-central-2\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		for _, f := range flagSpecs {
			fmt.Fprintf(os.Stderr, "  %s\n", envName(f.name))
		}
	}
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return ErrVersionRequested
		}
	}
	return nil
}

// loadEnvFile reads path into the process environment. Variables already set
// win, and a missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("cannot read env file %s: %w", path, err)
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.SpoolDir = viper.GetString("spool-dir")
	cfg.CacheDir = viper.GetString("cache-dir")
	cfg.PollInterval = viper.GetDuration("poll-interval")
	cfg.DocumentTimeout = viper.GetDuration("document-timeout")
	cfg.HeartbeatURL = viper.GetString("heartbeat-url")
	cfg.RegistryURL = viper.GetString("registry-url")
	cfg.RegistryUser = viper.GetString("registry-user")
	cfg.RegistryPassword = viper.GetString("registry-password")
	cfg.RegistryTimeout = viper.GetDuration("registry-timeout")
	cfg.Store = viper.GetString("store")
	cfg.StoreBaseDir = viper.GetString("store-basedir")
	cfg.WebDAVURL = viper.GetString("webdav-url")
	cfg.WebDAVUser = viper.GetString("webdav-user")
	cfg.WebDAVPassword = viper.GetString("webdav-password")
	cfg.S3Bucket = viper.GetString("s3-bucket")
	cfg.S3Region = viper.GetString("s3-region")
	cfg.AzblobConnectionString = viper.GetString("azblob-connection-string")
	cfg.AzblobContainer = viper.GetString("azblob-container")
	cfg.GCSBucket = viper.GetString("gcs-bucket")
	cfg.SlackWebhookURL = viper.GetString("slack-webhook-url")
	cfg.LayoutFile = viper.GetString("layout-file")
	cfg.MaxFileSize = viper.GetInt64("max-file-size")
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.LogFormat = viper.GetString("log-format")
}

// Validate checks the settings shared by all binaries
func (c *Config) Validate() error {
	// Validate mode
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.DocumentTimeout <= 0 {
		return errors.New("document timeout must be positive")
	}
	if c.RegistryTimeout <= 0 {
		return errors.New("registry timeout must be positive")
	}

	// Local directories are created on demand
	for name, dir := range map[string]string{"spool": c.SpoolDir, "cache": c.CacheDir} {
		if dir == "" {
			return fmt.Errorf("%s directory cannot be empty", name)
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
				return fmt.Errorf("cannot create %s directory %s: %w", name, dir, err)
			}
		} else if err != nil {
			return fmt.Errorf("cannot access %s directory %s: %w", name, dir, err)
		}
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if c.HeartbeatURL != "" {
		if err := checkURL("heartbeat url", c.HeartbeatURL); err != nil {
			return err
		}
	}

	if c.LayoutFile != "" {
		if _, err := os.Stat(c.LayoutFile); err != nil {
			return fmt.Errorf("cannot access layout file %s: %w", c.LayoutFile, err)
		}
	}

	// Validate max file size
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be one of: console, json)", c.LogFormat)
	}

	return nil
}

func (c *Config) validateStore() error {
	if c.StoreBaseDir == "" {
		return errors.New("store base directory cannot be empty")
	}

	switch c.Store {
	case StoreWebDAV:
		return checkURL("webdav url", c.WebDAVURL)
	case StoreS3:
		if c.S3Bucket == "" {
			return errors.New("s3 bucket is required for the s3 store")
		}
	case StoreAzure:
		if c.AzblobConnectionString == "" || c.AzblobContainer == "" {
			return errors.New("azblob connection string and container are required for the azblob store")
		}
	case StoreGCS:
		if c.GCSBucket == "" {
			return errors.New("gcs bucket is required for the gcs store")
		}
	default:
		return fmt.Errorf("invalid store: %s (must be one of: webdav, s3, azblob, gcs)", c.Store)
	}
	return nil
}

// ValidateRegistry checks the settings only the sync daemon needs
func (c *Config) ValidateRegistry() error {
	if err := checkURL("registry url", c.RegistryURL); err != nil {
		return err
	}
	if c.RegistryUser == "" || c.RegistryPassword == "" {
		return errors.New("registry user and password are required")
	}
	return nil
}

func checkURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL: %s", name, raw)
	}
	return nil
}

// Address returns the inspection server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// IsServerMode returns true if the inspection server runs over HTTP
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the inspection server runs over standard I/O
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
