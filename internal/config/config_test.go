package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())
	t.Setenv(ConfigEnv, "")

	cfg, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "java", cfg.ImageJ.Java)
	assert.Equal(t, []string{"/usr/local/ImageJ/headless.jar", "/usr/local/ImageJ/ij.jar"}, cfg.ImageJ.Classpath)
	assert.Equal(t, 1000000, cfg.Workspace.ChunkSize)
	assert.True(t, cfg.Workspace.ForceRemove)
	assert.Equal(t, "sqlite", cfg.Paths.DatabaseDriver)
}

func TestLoadExplicitFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	content := "imagej:\n  path: /opt/fiji\nworkspace:\n  force_remove: false\nmail:\n  host: smtp.lab\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv(ConfigEnv, path)
	t.Setenv("STACKANALYSER_MAIL_PORT", "2525")

	cfg, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "/opt/fiji", cfg.ImageJ.Path)
	assert.False(t, cfg.Workspace.ForceRemove)
	assert.Equal(t, "smtp.lab", cfg.Mail.Host)
	assert.Equal(t, 2525, cfg.Mail.Port)
	assert.Equal(t, path, FileUsed())
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("paths:\n  database_driver: postgres\n"), 0o644))
	t.Setenv(ConfigEnv, path)

	_, err := load(viper.New())
	assert.Error(t, err)
}

func TestExpandUser(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	got, err := expandUser("~/data")
	require.NoError(t, err)
	assert.Equal(t, "/home/tester/data", got)

	got, err = expandUser("/abs")
	require.NoError(t, err)
	assert.Equal(t, "/abs", got)
}
