// Package snapshot archives raw upstream payloads outside of the database.
// There are two drivers: a local file system and AWS S3.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for unknown keys
var ErrNotFound = errors.New("snapshot not found")

// Driver defines the interface for the archive
type Driver interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// DriverType represents the different type of archive drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation of the archive
const DriverTypeLocal DriverType = "local"

// DriverTypeAWSS3 is the AWS S3 implementation of the archive
const DriverTypeAWSS3 DriverType = "s3"

// DriverTypeNone is used when archiving is disabled
const DriverTypeNone DriverType = "none"

// Configuration contains the configuration for the archive
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// LocalConfiguration contains the configuration for the local filesystem driver
type LocalConfiguration struct {
	BasePath string
}

// S3Configuration contains the configuration for the S3 driver
type S3Configuration struct {
	AWSRegion     string
	AWSBucketName string
	AccessID      string
	AccessKey     string
	KeyPrefix     string
	// Endpoint overrides the S3 endpoint, e.g. for minio or localstack
	Endpoint string
}

// New returns the driver for config, or nil for DriverTypeNone
func New(ctx context.Context, config Configuration) (Driver, error) {
	switch config.DriverType {
	case DriverTypeNone, "":
		return nil, nil
	case DriverTypeLocal:
		if config.LocalConfiguration == nil {
			return nil, fmt.Errorf("local snapshot driver requires a local configuration")
		}
		return NewLocalFilesystem(config.LocalConfiguration.BasePath)
	case DriverTypeAWSS3:
		if config.S3Configuration == nil {
			return nil, fmt.Errorf("s3 snapshot driver requires an s3 configuration")
		}
		return NewS3(ctx, *config.S3Configuration)
	}
	return nil, fmt.Errorf("unknown snapshot driver '%s'", config.DriverType)
}

// Key returns a new archive key for a payload from source fetched at t,
// e.g. "datausa/2024/03/01/2024-03-01T12:00:00Z-<uuid>.json"
func Key(source string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/%s-%s.json", source, t.Format("2006/01/02"), t.Format(time.RFC3339), uuid.NewString())
}

func validKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid snapshot key '%s'", key)
	}
	return nil
}
