package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig_Validates(t *testing.T) {
	config := NewDefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, 1, config.Queue.Workers)
	assert.Equal(t, 14, config.Submission.MaxTitleLength)
	assert.Equal(t, 8*time.Minute, ParseDuration(config.Cooldown.Duration, 0))
	assert.Len(t, config.Submission.Checkboxes, 4)
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
[queue]
workers = 2
max_workers = 3

[retrieval]
search_attempts = 7
`), 0644))
	require.NoError(t, os.WriteFile(override, []byte(`
[queue]
workers = 3
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 3, config.Queue.Workers)
	assert.Equal(t, 7, config.Retrieval.SearchAttempts)
	assert.Equal(t, "8m", config.Cooldown.Duration, "untouched sections keep defaults")
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	t.Setenv("VETTER_PLATFORM_EMAIL", "bot@example.com")
	t.Setenv("VETTER_QUEUE_WORKERS", "2")
	t.Setenv("VETTER_COOLDOWN_PRIVILEGED", "42, 43")
	t.Setenv("CHROME_PATH", "/opt/chrome/chrome")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, "bot@example.com", config.Platform.Email)
	assert.Equal(t, 2, config.Queue.Workers)
	assert.Equal(t, []int64{42, 43}, config.Cooldown.Privileged)
	assert.Equal(t, "/opt/chrome/chrome", config.Browser.ExecPath)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	config := NewDefaultConfig()
	config.Queue.Workers = 4
	assert.Error(t, config.Validate(), "workers above max_workers")

	config = NewDefaultConfig()
	config.Submission.ProcessingTimeout = "ninety seconds"
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Logging.Level = "verbose"
	assert.Error(t, config.Validate())
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 9000, "0.0.0.0", 0)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 1, config.Queue.Workers)
}
