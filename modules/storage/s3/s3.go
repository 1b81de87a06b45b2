// Package s3 stores chat attachments in Amazon S3 or an S3-compatible
// service through aws-sdk-go-v2.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/reddichat/internal/core"
	"github.com/flemzord/reddichat/internal/storage"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ storage.Uploader  = (*Bucket)(nil)
	_ storage.Presigner = (*Bucket)(nil)
)

// Bucket uploads to one S3 bucket.
type Bucket struct {
	cfg       Config
	client    *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
	naming    storage.Naming
	logger    *slog.Logger
}

// New builds a Bucket from cfg.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Bucket, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Bucket{
		cfg:       cfg,
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
		logger:    logger,
	}, nil
}

// SetNaming overrides key generation.
func (b *Bucket) SetNaming(n storage.Naming) { b.naming = n }

// Upload implements storage.Uploader.
func (b *Bucket) Upload(ctx context.Context, obj storage.Object) (storage.Stored, error) {
	name, key := b.naming.Key(obj.UserID, obj.Filename)
	sum := storage.Checksum(obj.Data)

	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(obj.Data),
		ContentType: aws.String(obj.MIMEType),
		Metadata: map[string]string{
			"original-filename": obj.Filename,
			"user-id":           obj.UserID,
			"checksum":          sum,
		},
	})
	if err != nil {
		return storage.Stored{}, fmt.Errorf("s3: upload %s: %w", key, err)
	}

	b.logger.Debug("object uploaded", "key", key, "size", len(obj.Data))
	return storage.Stored{
		Key:      key,
		URL:      b.cfg.objectURL(key),
		Bucket:   b.cfg.Bucket,
		Filename: name,
		Size:     int64(len(obj.Data)),
		Checksum: sum,
	}, nil
}

// Delete implements storage.Uploader.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3: delete %s: %w", key, err)
	}
	return nil
}

// PresignGet implements storage.Presigner. A non-positive ttl uses the
// configured presign_ttl.
func (b *Bucket) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = b.cfg.presignTTL()
	}
	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3: presign %s: %w", key, err)
	}
	return req.URL, nil
}

// Module exposes a Bucket as the "storage.s3" module.
type Module struct {
	config Config
	bucket *Bucket
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "storage.s3",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("s3: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	b, err := New(context.Background(), m.config, ctx.Logger)
	if err != nil {
		return err
	}
	m.bucket = b
	ctx.RegisterService(storage.ServiceName, storage.Uploader(b))
	ctx.Logger.Info("s3 storage provisioned", "bucket", b.cfg.Bucket, "endpoint", b.cfg.Endpoint)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Bucket returns the provisioned bucket.
func (m *Module) Bucket() *Bucket {
	return m.bucket
}
