package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
db:
  host: mongo.internal
  port: 27017
  username: svc
  db_name: parquetsync
data_dir: /data/parquet
sample_dir: /data/parquet-sample
storage:
  backend: s3
  s3:
    access_key_id: AKIA_PLACEHOLDER
    secret_access_key: placeholder
    region: ca-central-1
    bucket: parquetsync-bucket
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesAndValidates(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mongo.internal", cfg.DB.Host)
	assert.Equal(t, 27017, cfg.DB.Port)
	assert.Equal(t, BackendS3, cfg.Storage.Backend)
	assert.Equal(t, "ca-central-1", cfg.Storage.S3.Region)
}

func TestLoadFailsWhenDBHostMissing(t *testing.T) {
	path := writeConfig(t, "data_dir: /data\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadFailsWhenS3BackendMissingCredentials(t *testing.T) {
	path := writeConfig(t, "db:\n  host: mongo.internal\ndata_dir: /data\nstorage:\n  backend: s3\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyEnvOverlaysSecrets(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("PARQUETSYNC_DB_PASSWORD", "from-env")
	t.Setenv("PARQUETSYNC_S3_SECRET_ACCESS_KEY", "from-env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.DB.Password)
	assert.Equal(t, "from-env-secret", cfg.Storage.S3.SecretAccessKey)
}

func TestValidateAllowsNoStorageBackendConfigured(t *testing.T) {
	cfg := &Config{DB: DBConfig{Host: "mongo.internal"}, DataDir: "/data"}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := &Config{DB: DBConfig{Host: "mongo.internal"}, DataDir: "/data", Storage: StorageConfig{Backend: "gcs"}}
	assert.Error(t, cfg.Validate())
}
