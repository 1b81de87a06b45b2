package s3

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultRegion     = "us-east-1"
	defaultPresignTTL = time.Hour
)

// Config holds the S3 (or S3-compatible: R2, MinIO) storage settings.
type Config struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`

	// Endpoint overrides the AWS endpoint for S3-compatible services.
	Endpoint string `yaml:"endpoint"`

	// UsePathStyle addresses objects as {endpoint}/{bucket}/{key}.
	// MinIO needs it.
	UsePathStyle bool `yaml:"use_path_style"`

	// AccessKeyID and SecretAccessKey are optional; the default AWS
	// credential chain is used when they are empty.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// PublicURL, when set, is the prefix of object URLs (a CDN or a
	// public bucket domain).
	PublicURL string `yaml:"public_url"`

	// PresignTTL is the lifetime of presigned download URLs.
	PresignTTL string `yaml:"presign_ttl"`
}

func (c *Config) defaults() {
	if c.Region == "" {
		c.Region = defaultRegion
	}
	c.Endpoint = strings.TrimSuffix(c.Endpoint, "/")
	c.PublicURL = strings.TrimSuffix(c.PublicURL, "/")
}

func (c *Config) presignTTL() time.Duration {
	if d, err := time.ParseDuration(c.PresignTTL); err == nil && d > 0 {
		return d
	}
	return defaultPresignTTL
}

func (c *Config) validate() error {
	var errs []error
	if c.Bucket == "" {
		errs = append(errs, errors.New("s3: bucket is required"))
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		errs = append(errs, errors.New("s3: access_key_id and secret_access_key must be set together"))
	}
	if c.PresignTTL != "" {
		if d, err := time.ParseDuration(c.PresignTTL); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("s3: invalid presign_ttl %q", c.PresignTTL))
		}
	}
	return errors.Join(errs...)
}

// objectURL is where a stored object can be fetched from.
func (c *Config) objectURL(key string) string {
	switch {
	case c.PublicURL != "":
		return c.PublicURL + "/" + key
	case c.Endpoint != "":
		return c.Endpoint + "/" + c.Bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.Bucket, c.Region, key)
	}
}
