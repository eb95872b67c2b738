package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, ":5001", cfg.App.HTTPAddr)
	assert.Equal(t, "", cfg.Database.DSN)
	assert.Equal(t, 7*24*time.Hour, cfg.Security.TokenTTL)
	assert.Equal(t, int64(20<<20), cfg.Media.MaxUploadBytes)
	assert.Equal(t, "isak@maxyourpoints.com", cfg.Security.BootstrapEmail)
	assert.False(t, cfg.IsProduction())
}

func TestLoadJSONWithDurations(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"app": {"env": "prod", "publish_interval": "30s", "shutdown_timeout": "3s"},
		"database": {"driver": "sqlite", "dsn": "file:cms.db", "connect_timeout": "2s"},
		"security": {"jwt_secret": "s3cret", "token_ttl": "24h"}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 30*time.Second, cfg.App.PublishInterval)
	assert.Equal(t, 3*time.Second, cfg.App.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Database.ConnectTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Security.TokenTTL)
	assert.Equal(t, "s3cret", cfg.Security.JWTSecret)
	// 未设置字段回落到默认值
	assert.Equal(t, "local", cfg.Media.Backend)
}

func TestLoadJSONRejectsBadDuration(t *testing.T) {
	path := writeFile(t, "config.json", `{"app": {"publish_interval": "soon"}}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
app:
  http_addr: ":9000"
  publish_interval: 2m
media:
  backend: s3
  s3:
    bucket: cms-media
    region: eu-north-1
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.App.HTTPAddr)
	assert.Equal(t, 2*time.Minute, cfg.App.PublishInterval)
	assert.Equal(t, "s3", cfg.Media.Backend)
	assert.Equal(t, "cms-media", cfg.Media.S3.Bucket)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("DATABASE_URL", "user:pw@tcp(db:3306)/cms?parseTime=true")
	t.Setenv("MEDIA_BACKEND", "GCS")
	t.Setenv("GCS_BUCKET", "cms-bucket")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, "from-env", cfg.Security.JWTSecret)
	assert.Equal(t, "user:pw@tcp(db:3306)/cms?parseTime=true", cfg.Database.DSN)
	assert.Equal(t, "gcs", cfg.Media.Backend)
	assert.Equal(t, "cms-bucket", cfg.Media.GCS.Bucket)
}

func TestEnvOverridesBuildMySQLDSN(t *testing.T) {
	t.Setenv("DB_HOST", "mysql")
	t.Setenv("DB_USER", "cms")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "blog")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Contains(t, cfg.Database.DSN, "cms:pw@tcp(mysql:3306)/blog")
}

func TestLoadOrDefaultOnParseError(t *testing.T) {
	path := writeFile(t, "config.json", `{not json`)
	cfg := LoadOrDefault(path)
	require.NotNil(t, cfg)
	assert.Equal(t, ":5001", cfg.App.HTTPAddr)
}
