// Package config assembles the database connection parameters and remote
// storage credentials the sync engine needs: a YAML document layered with
// environment variables for secrets, plus the objstore.Bucket construction
// it ultimately hands off to internal/storage.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DBConfig holds the document database connection parameters: host, port,
// username, password, optional TLS CA file path.
type DBConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Database  string `yaml:"db_name"`
	TLSCAFile string `yaml:"tls_ca_file,omitempty"`
}

// AzureConfig names the credentials the Azure blob backend needs: account
// name, account key, and an optional connection string.
type AzureConfig struct {
	AccountName      string `yaml:"account_name"`
	AccountKey       string `yaml:"account_key"`
	ConnectionString string `yaml:"connection_string,omitempty"`
	Container        string `yaml:"container"`
}

// S3Config names the credentials the S3 backend needs: access key id,
// secret and region.
type S3Config struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint,omitempty"`
}

// Backend names which remote storage kind StorageConfig.BuildBucket constructs.
type Backend string

const (
	BackendAzure Backend = "azure"
	BackendS3    Backend = "s3"
)

// StorageConfig selects and configures one remote object store backend.
type StorageConfig struct {
	Backend Backend     `yaml:"backend"`
	Azure   AzureConfig `yaml:"azure,omitempty"`
	S3      S3Config    `yaml:"s3,omitempty"`
}

// Config is the top-level `--config` document: database connection,
// storage backend, and the local data/sample roots internal/storage.Adapter
// resolves collection files against.
type Config struct {
	DB        DBConfig      `yaml:"db"`
	Storage   StorageConfig `yaml:"storage"`
	DataDir   string        `yaml:"data_dir"`
	SampleDir string        `yaml:"sample_dir"`
}

// Load reads and parses path, then overlays environment variables onto the
// connection and credential fields; a set variable replaces whatever the
// file holds — so a checked-in config.yaml can omit passwords and keys
// entirely and source them from `.env` or the process environment instead.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays PARQUETSYNC_* environment variables onto the secret
// fields, so credentials never need to be duplicated in the YAML file.
func (c *Config) applyEnv() {
	overlayString("PARQUETSYNC_DB_HOST", &c.DB.Host)
	overlayInt("PARQUETSYNC_DB_PORT", &c.DB.Port)
	overlayString("PARQUETSYNC_DB_USERNAME", &c.DB.Username)
	overlayString("PARQUETSYNC_DB_PASSWORD", &c.DB.Password)
	overlayString("PARQUETSYNC_DB_NAME", &c.DB.Database)
	overlayString("PARQUETSYNC_DB_TLS_CA_FILE", &c.DB.TLSCAFile)

	overlayString("PARQUETSYNC_AZURE_ACCOUNT_NAME", &c.Storage.Azure.AccountName)
	overlayString("PARQUETSYNC_AZURE_ACCOUNT_KEY", &c.Storage.Azure.AccountKey)
	overlayString("PARQUETSYNC_AZURE_CONNECTION_STRING", &c.Storage.Azure.ConnectionString)

	overlayString("PARQUETSYNC_S3_ACCESS_KEY_ID", &c.Storage.S3.AccessKeyID)
	overlayString("PARQUETSYNC_S3_SECRET_ACCESS_KEY", &c.Storage.S3.SecretAccessKey)
}

func overlayString(env string, dst *string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func overlayInt(env string, dst *int) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate checks that the selected storage backend carries the credentials
// it needs and that the database host and data directory are set.
func (c *Config) Validate() error {
	if c.DB.Host == "" {
		return fmt.Errorf("config: db.host is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}

	switch c.Storage.Backend {
	case BackendAzure:
		if c.Storage.Azure.AccountName == "" || c.Storage.Azure.AccountKey == "" {
			return fmt.Errorf("config: storage.azure requires account_name and account_key")
		}
	case BackendS3:
		if c.Storage.S3.AccessKeyID == "" || c.Storage.S3.SecretAccessKey == "" || c.Storage.S3.Region == "" {
			return fmt.Errorf("config: storage.s3 requires access_key_id, secret_access_key and region")
		}
	case "":
		// no remote backend configured; upload/download actions fail fast
		// when attempted.
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
