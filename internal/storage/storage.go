package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cyodesign.app/atelier/core/config"
)

var ErrInvalidKey = errors.New("invalid object key")

// SignedURL is a short-lived upload target and the URL the object is served from.
type SignedURL struct {
	SignedURL string `json:"signed_url"`
	PublicURL string `json:"public_url"`
}

// Bucket presigns uploads into an S3-compatible bucket.
type Bucket struct {
	presign   *s3.PresignClient
	bucket    string
	publicURL string
	ttl       time.Duration
}

func New(cfg config.StorageConfig) *Bucket {
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &Bucket{
		presign:   s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		ttl:       cfg.PresignTTL,
	}
}

// ObjectKey scopes key under owner. Both must be single relative path segments.
func ObjectKey(owner, key string) (string, error) {
	for _, s := range []string{owner, key} {
		if s == "" || strings.Contains(s, "..") || strings.HasPrefix(s, "/") {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, s)
		}
	}
	return path.Join(owner, key), nil
}

// SignPut returns a presigned PUT URL for owner/key.
func (b *Bucket) SignPut(ctx context.Context, owner, key, contentType string) (SignedURL, error) {
	objectKey, err := ObjectKey(owner, key)
	if err != nil {
		return SignedURL{}, err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	req, err := b.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(b.ttl))
	if err != nil {
		return SignedURL{}, fmt.Errorf("presigning %s: %w", objectKey, err)
	}

	return SignedURL{
		SignedURL: req.URL,
		PublicURL: b.PublicURL(objectKey),
	}, nil
}

func (b *Bucket) PublicURL(objectKey string) string {
	escaped := (&url.URL{Path: objectKey}).EscapedPath()
	return b.publicURL + "/" + escaped
}
