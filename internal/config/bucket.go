package config

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/client"
	"gopkg.in/yaml.v3"
)

// bucketConfig is the generic `type`/`config` envelope
// thanos-io/objstore/client.NewBucket expects, one variant per supported
// backend.
type bucketConfig struct {
	Type   string      `yaml:"type"`
	Config interface{} `yaml:"config"`
}

type azureBucketConfig struct {
	StorageAccount          string `yaml:"storage_account"`
	StorageAccountKey       string `yaml:"storage_account_key"`
	StorageConnectionString string `yaml:"storage_connection_string,omitempty"`
	Container               string `yaml:"container"`
}

type s3BucketConfig struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// BuildBucket constructs the objstore.Bucket the storage adapter reads and
// writes through, from the selected backend's credentials. component names
// this process for the bucket client's own internal logging.
func (c *StorageConfig) BuildBucket(logger log.Logger, component string) (objstore.Bucket, error) {
	var bc bucketConfig
	switch c.Backend {
	case BackendAzure:
		bc = bucketConfig{
			Type: "AZURE",
			Config: azureBucketConfig{
				StorageAccount:          c.Azure.AccountName,
				StorageAccountKey:       c.Azure.AccountKey,
				StorageConnectionString: c.Azure.ConnectionString,
				Container:               c.Azure.Container,
			},
		}
	case BackendS3:
		bc = bucketConfig{
			Type: "S3",
			Config: s3BucketConfig{
				Bucket:    c.S3.Bucket,
				Endpoint:  c.S3.Endpoint,
				Region:    c.S3.Region,
				AccessKey: c.S3.AccessKeyID,
				SecretKey: c.S3.SecretAccessKey,
			},
		}
	default:
		return nil, fmt.Errorf("config: no storage backend configured")
	}

	confYaml, err := yaml.Marshal(bc)
	if err != nil {
		return nil, fmt.Errorf("config: marshal bucket config: %w", err)
	}

	bucket, err := client.NewBucket(logger, confYaml, component)
	if err != nil {
		return nil, fmt.Errorf("config: build %s bucket: %w", c.Backend, err)
	}
	return bucket, nil
}
