// Package secrets seeds the local token cache from an external secret
// store. Headless deployments have no browser to run the interactive
// OAuth flow, so a credential bundle produced elsewhere is staged in S3
// and copied into the local cache exactly once, before the renewal
// client is constructed.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Dellyyty/gex-tool/internal/logger"
	"github.com/Dellyyty/gex-tool/internal/tokencache"
)

// Config locates the credential bundle object.
type Config struct {
	Region          string
	Bucket          string
	Key             string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether a bundle location is configured at all.
func (c Config) Enabled() bool {
	return c.Bucket != "" && c.Key != ""
}

// objectAPI is the slice of the S3 client the bridge needs; narrowed for
// tests.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Bridge copies the external credential bundle into the local token
// cache when, and only when, the cache is empty.
type Bridge struct {
	api    objectAPI
	bucket string
	key    string
}

// NewBridge builds the S3-backed bridge. Returns (nil, nil) when no
// bundle location is configured: an absent external store is the normal
// case for local deployments.
func NewBridge(ctx context.Context, cfg Config) (*Bridge, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return &Bridge{
		api:    s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		key:    cfg.Key,
	}, nil
}

// bundleJSON is the wire format of the staged bundle. Timestamps are
// unix seconds.
type bundleJSON struct {
	AccessTokenIssuedAt  int64  `json:"access_token_issued_at"`
	RefreshTokenIssuedAt int64  `json:"refresh_token_issued_at"`
	AccessToken          string `json:"access_token"`
	RefreshToken         string `json:"refresh_token"`
	IDToken              string `json:"id_token"`
	ExpiresIn            int64  `json:"expires_in"`
	TokenType            string `json:"token_type"`
	Scope                string `json:"scope"`
}

// SeedIfEmpty copies the external bundle into the cache when the cache
// has no row. It never fails the caller: a missing object, an
// unreadable bundle, or a transport error is logged and treated as
// "nothing to seed". The one-time write is idempotent because the cache
// refuses to overwrite an existing row.
func (b *Bridge) SeedIfEmpty(ctx context.Context, cache *tokencache.Store) {
	if b == nil {
		return
	}

	existing, err := cache.Load()
	if err != nil {
		logger.Warn("Token cache unreadable, skipping external seed: %v", err)
		return
	}
	if existing != nil {
		logger.Debug("Token cache already populated, external bundle ignored")
		return
	}

	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: &b.key})
	if err != nil {
		// Covers NoSuchKey as well as transient transport failures;
		// both mean "no external bundle available right now".
		logger.Debug("No external credential bundle at s3://%s/%s: %v", b.bucket, b.key, err)
		return
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, 1<<20))
	if err != nil {
		logger.Warn("Failed to read external credential bundle: %v", err)
		return
	}

	var bj bundleJSON
	if err := json.Unmarshal(body, &bj); err != nil {
		logger.Warn("External credential bundle is not valid JSON: %v", err)
		return
	}
	if bj.RefreshToken == "" {
		logger.Warn("External credential bundle missing refresh_token, ignored")
		return
	}

	seeded, err := cache.Seed(&tokencache.Bundle{
		AccessTokenIssuedAt:  time.Unix(bj.AccessTokenIssuedAt, 0).UTC(),
		RefreshTokenIssuedAt: time.Unix(bj.RefreshTokenIssuedAt, 0).UTC(),
		AccessToken:          bj.AccessToken,
		RefreshToken:         bj.RefreshToken,
		IDToken:              bj.IDToken,
		ExpiresIn:            bj.ExpiresIn,
		TokenType:            bj.TokenType,
		Scope:                bj.Scope,
	})
	if err != nil {
		logger.Warn("Failed to seed token cache from external bundle: %v", err)
		return
	}
	if seeded {
		logger.Info("Token cache seeded from s3://%s/%s", b.bucket, b.key)
	}
}
