package overflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kimhsiao/coachsync/internal/crypto"
	apperrors "github.com/kimhsiao/coachsync/internal/errors"
	"github.com/kimhsiao/coachsync/internal/logging"
	"github.com/kimhsiao/coachsync/internal/models"
)

// Provider selects endpoint conventions for an S3-compatible service.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderMinIO Provider = "minio"
	ProviderR2    Provider = "r2"
)

// S3Config configures an S3Sink.
type S3Config struct {
	Provider  Provider
	Bucket    string
	Region    string
	Endpoint  string // MinIO or custom endpoint; derived for R2
	AccountID string // Cloudflare account, R2 only
	Prefix    string
	UseSSL    bool // MinIO endpoints without a scheme

	// Static credentials. When empty the default AWS credential chain
	// is used. Prefer environment variables over config files.
	AccessKey string
	SecretKey string

	UsePathStyle bool

	// EncryptionKey, when set, seals every archive before upload.
	EncryptionKey string
}

// Normalize fills provider defaults and validates the config.
func (c *S3Config) Normalize() error {
	if c.Bucket == "" {
		return apperrors.New(apperrors.ErrConfig, "overflow bucket is required")
	}
	if c.Provider == "" {
		c.Provider = ProviderAWS
	}

	switch c.Provider {
	case ProviderAWS:
		if c.Region == "" {
			c.Region = "us-east-1"
		}
	case ProviderMinIO:
		if c.Endpoint == "" {
			return apperrors.New(apperrors.ErrConfig, "minio endpoint is required")
		}
		c.Endpoint = withScheme(c.Endpoint, c.UseSSL)
		c.UsePathStyle = true
		if c.Region == "" {
			c.Region = "us-east-1"
		}
	case ProviderR2:
		if c.Endpoint == "" {
			if !IsValidR2AccountID(c.AccountID) {
				return apperrors.Newf(apperrors.ErrConfig, "invalid R2 account id %q", c.AccountID)
			}
			c.Endpoint = R2Endpoint(c.AccountID)
		}
		c.Region = "auto"
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown overflow provider %q", c.Provider)
	}

	if c.Prefix != "" && !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	return nil
}

// R2Endpoint returns the S3 API endpoint for a Cloudflare account.
func R2Endpoint(accountID string) string {
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
}

// IsValidR2AccountID reports whether id looks like a Cloudflare account
// id (32 hex characters).
func IsValidR2AccountID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, c := range id {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

func withScheme(endpoint string, useSSL bool) string {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if useSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	return strings.TrimSuffix(endpoint, "/")
}

// objectPutter is the part of *s3.Client the sink uses.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives evicted actions as JSON objects in a bucket.
type S3Sink struct {
	client objectPutter
	config S3Config
	now    func() time.Time
}

// Archive is the object body written for each spill.
type Archive struct {
	Reason    Reason                `json:"reason"`
	EvictedAt int64                 `json:"evictedAt"`
	Actions   []models.QueuedAction `json:"actions"`
}

// NewS3Sink builds an S3 client for cfg.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "load aws config", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newS3Sink(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

func newS3Sink(client objectPutter, cfg S3Config) *S3Sink {
	return &S3Sink{client: client, config: cfg, now: time.Now}
}

// Spill implements Sink.
func (s *S3Sink) Spill(ctx context.Context, actions []models.QueuedAction, reason Reason) error {
	if len(actions) == 0 {
		return nil
	}

	now := s.now().UTC()
	body, err := json.Marshal(Archive{Reason: reason, EvictedAt: now.UnixMilli(), Actions: actions})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrOverflowFailure, "encode evicted actions", err)
	}

	key := s.objectKey(now, reason, actions[0].ID)
	contentType := "application/json"
	if s.config.EncryptionKey != "" {
		body, err = crypto.Seal(body, []byte(s.config.EncryptionKey))
		if err != nil {
			return apperrors.Wrap(apperrors.ErrOverflowFailure, "seal evicted actions", err)
		}
		key += ".enc"
		contentType = "application/octet-stream"
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrOverflowFailure, "upload evicted actions", err)
	}

	logging.Info("Evicted actions archived",
		map[string]interface{}{
			"bucket":    s.config.Bucket,
			"key":       key,
			"count":     len(actions),
			"reason":    reason,
			"encrypted": s.config.EncryptionKey != "",
		})
	return nil
}

func (s *S3Sink) objectKey(now time.Time, reason Reason, firstID string) string {
	return fmt.Sprintf("%sevicted/%s/%d-%s-%s.json",
		s.config.Prefix, now.Format("2006/01/02"), now.UnixMilli(), reason, firstID)
}
