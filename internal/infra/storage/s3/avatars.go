package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/config"
)

// defaultRegion is fixed so presigning never has to look the bucket location up.
const defaultRegion = "us-east-1"

// AvatarSigner turns avatar object keys into presigned GET URLs.
type AvatarSigner struct {
	bucket string
	ttl    time.Duration
	client *minio.Client
	logger *slog.Logger
}

func NewAvatarSigner(cfg config.S3Config, logger *slog.Logger) (*AvatarSigner, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	client, err := minio.New(parseEndpoint(endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: defaultRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &AvatarSigner{bucket: bucket, ttl: ttl, client: client, logger: logger}, nil
}

// Sign presigns key. Absolute URLs and empty values are returned as they are.
func (s *AvatarSigner) Sign(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "://") {
		return key, nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, strings.TrimLeft(key, "/"), s.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("s3: presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Directory wraps a profile directory and presigns every avatar it returns.
func (s *AvatarSigner) Directory(next domainchat.ProfileDirectory) domainchat.ProfileDirectory {
	return &signedDirectory{next: next, signer: s}
}

type signedDirectory struct {
	next   domainchat.ProfileDirectory
	signer *AvatarSigner
}

func (d *signedDirectory) Profiles(ctx context.Context, userIDs []string) (map[string]domainchat.Profile, error) {
	profiles, err := d.next.Profiles(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for id, p := range profiles {
		signed, err := d.signer.Sign(ctx, p.AvatarURL)
		if err != nil {
			// a profile without avatar is still worth showing
			if d.signer.logger != nil {
				d.signer.logger.Warn("avatar presign failed", "user_id", id, "error", err)
			}
			signed = ""
		}
		p.AvatarURL = signed
		profiles[id] = p
	}
	return profiles, nil
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}
