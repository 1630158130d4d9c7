package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to reset pflag.CommandLine for testing
func resetFlags() {
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	viper.Reset()
}

// Helper function to set os.Args for testing
func setArgs(args []string) {
	os.Args = args
}

// Helper function to clear environment variables
func clearEnvVars() {
	for _, f := range flagSpecs {
		os.Unsetenv(envName(f.name))
	}
}

// baseArgs points all local state into dir and selects a reachable store.
func baseArgs(dir string, extra ...string) []string {
	args := []string{
		"dispatch-sync",
		"--spool-dir=" + filepath.Join(dir, "spool"),
		"--cache-dir=" + filepath.Join(dir, "cache"),
		"--webdav-url=https://dav.example.org",
		"--env-file=" + filepath.Join(dir, "missing.env"),
	}
	return append(args, extra...)
}

func prepare(t *testing.T, args []string) {
	t.Helper()

	originalArgs := os.Args
	t.Cleanup(func() {
		os.Args = originalArgs
		resetFlags()
		clearEnvVars()
	})

	setArgs(args)
	resetFlags()
	clearEnvVars()
}

func TestLoadFromFlags_DefaultConfig(t *testing.T) {
	dir := t.TempDir()
	prepare(t, baseArgs(dir))

	cfg, err := LoadFromFlags()
	require.NoError(t, err)

	assert.Equal(t, "webdav", cfg.Store)
	assert.Equal(t, "Einsaetze", cfg.StoreBaseDir)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.DocumentTimeout)
	assert.Equal(t, 30*time.Second, cfg.RegistryTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, int64(50*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, filepath.Join(dir, "spool"), cfg.SpoolDir)

	// Validate creates the local directories
	assert.DirExists(t, cfg.SpoolDir)
	assert.DirExists(t, cfg.CacheDir)
}

func TestLoadFromFlags_ValidFlags(t *testing.T) {
	dir := t.TempDir()
	prepare(t, baseArgs(dir,
		"--poll-interval=30s",
		"--registry-url=https://registry.example.org/unit/index.php",
		"--registry-user=admin",
		"--registry-password=hunter2",
		"--store-basedir=Archiv",
		"--log-level=debug",
		"--log-format=json",
		"--max-file-size=1048576",
	))

	cfg, err := LoadFromFlags()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, "https://registry.example.org/unit/index.php", cfg.RegistryURL)
	assert.Equal(t, "admin", cfg.RegistryUser)
	assert.Equal(t, "hunter2", cfg.RegistryPassword)
	assert.Equal(t, "Archiv", cfg.StoreBaseDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, int64(1048576), cfg.MaxFileSize)
	assert.NoError(t, cfg.ValidateRegistry())
}

func TestLoadFromFlags_EnvironmentVariables(t *testing.T) {
	dir := t.TempDir()
	prepare(t, baseArgs(dir))

	t.Setenv("DISPATCH_REGISTRY_URL", "https://registry.example.org/unit/index.php")
	t.Setenv("DISPATCH_REGISTRY_PASSWORD", "fromenv")
	t.Setenv("DISPATCH_POLL_INTERVAL", "1m")
	t.Setenv("DISPATCH_SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/X")

	cfg, err := LoadFromFlags()
	require.NoError(t, err)

	assert.Equal(t, "https://registry.example.org/unit/index.php", cfg.RegistryURL)
	assert.Equal(t, "fromenv", cfg.RegistryPassword)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, "https://hooks.slack.com/services/T/B/X", cfg.SlackWebhookURL)
}

func TestLoadFromFlags_FlagOverridesEnvironment(t *testing.T) {
	dir := t.TempDir()
	prepare(t, baseArgs(dir, "--registry-user=fromflag"))

	t.Setenv("DISPATCH_REGISTRY_USER", "fromenv")

	cfg, err := LoadFromFlags()
	require.NoError(t, err)
	assert.Equal(t, "fromflag", cfg.RegistryUser)
}

func TestLoadFromFlags_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "dispatch.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"DISPATCH_REGISTRY_USER=fromfile\nDISPATCH_REGISTRY_PASSWORD=filesecret\n"), 0o600))

	prepare(t, append(baseArgs(dir), "--env-file="+envFile))
	t.Setenv("DISPATCH_REGISTRY_USER", "fromenv")
	// godotenv sets variables directly; drop them again after the test
	t.Cleanup(func() { os.Unsetenv("DISPATCH_REGISTRY_PASSWORD") })

	cfg, err := LoadFromFlags()
	require.NoError(t, err)

	// the environment wins over the file
	assert.Equal(t, "fromenv", cfg.RegistryUser)
	assert.Equal(t, "filesecret", cfg.RegistryPassword)
}

func TestLoadFromFlags_InvalidStore(t *testing.T) {
	prepare(t, baseArgs(t.TempDir(), "--store=ftp"))

	_, err := LoadFromFlags()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid store: ftp")
}

func TestLoadFromFlags_InvalidLogLevel(t *testing.T) {
	prepare(t, baseArgs(t.TempDir(), "--log-level=invalid"))

	_, err := LoadFromFlags()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestLoadFromFlags_VersionFlag(t *testing.T) {
	prepare(t, []string{"dispatch-sync", "--version"})

	_, err := LoadFromFlags()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionRequested))
}
