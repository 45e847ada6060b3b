// Package photo copies applicant photos from Telegram into an S3-compatible bucket.
package photo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/foospoll/foospollbot/internal/config"
)

// Telegram caps bot downloads at 20 MB.
const maxPhotoSize = 20 << 20

// FileResolver turns a Telegram file id into a download URL.
type FileResolver interface {
	FileURL(fileID string) (string, error)
}

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Archiver struct {
	files  FileResolver
	client putter
	bucket string
	http   *http.Client
}

// NewS3 builds an archiver with static credentials and an optional custom endpoint
// (R2, MinIO).
func NewS3(ctx context.Context, cfg config.S3Config, files FileResolver) (*Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newArchiver(files, client, cfg.Bucket), nil
}

func newArchiver(files FileResolver, client putter, bucket string) *Archiver {
	return &Archiver{
		files:  files,
		client: client,
		bucket: bucket,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Key builds the object key for a photo owned by owner.
func Key(owner string) string {
	s := slug.Make(owner)
	if s == "" {
		s = "applicant"
	}
	return fmt.Sprintf("photos/%s-%s.jpg", s, uuid.NewString())
}

// Archive downloads the photo and uploads it, returning the object key.
func (a *Archiver) Archive(ctx context.Context, fileID, owner string) (string, error) {
	url, err := a.files.FileURL(fileID)
	if err != nil {
		return "", fmt.Errorf("resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download photo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download photo: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoSize+1))
	if err != nil {
		return "", fmt.Errorf("download photo: %w", err)
	}
	if len(body) > maxPhotoSize {
		return "", fmt.Errorf("photo exceeds %d bytes", maxPhotoSize)
	}

	key := Key(owner)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	return key, nil
}
