package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func EnsureBuckets(ctx context.Context, client *minio.Client, cfg Config) error {
	if err := ensureBucket(ctx, client, cfg.BucketScreenshots, cfg.Region); err != nil {
		return fmt.Errorf("ensure screenshots bucket: %w", err)
	}
	return nil
}

func CheckBuckets(ctx context.Context, client *minio.Client, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	exists, err := client.BucketExists(ctx, cfg.BucketScreenshots)
	if err != nil {
		return fmt.Errorf("screenshots bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("screenshots bucket missing: %s", cfg.BucketScreenshots)
	}
	return nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Screenshots stores run completion screenshots.
type Screenshots struct {
	cfg    Config
	client objectClient
}

func NewScreenshots(cfg Config, client *minio.Client) (*Screenshots, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	return &Screenshots{cfg: cfg, client: client}, nil
}

var allowedImageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

var ErrUnsupportedContentType = errors.New("unsupported screenshot content type")

// Put uploads body and returns the URL to record on the run.
func (s *Screenshots) Put(ctx context.Context, guildID string, runID int64, contentType string, body io.Reader, size int64) (string, error) {
	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	ext, ok := allowedImageTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}

	key := path.Join("guilds", guildID, "runs", fmt.Sprint(runID), uuid.NewString()+ext)
	if _, err := s.client.PutObject(ctx, s.cfg.BucketScreenshots, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("put screenshot: %w", err)
	}
	return s.cfg.ObjectURL(key), nil
}

// Remove deletes the object behind a URL returned by Put.
func (s *Screenshots) Remove(ctx context.Context, url string) error {
	key, ok := s.cfg.ObjectKey(url)
	if !ok {
		return fmt.Errorf("screenshot url outside bucket: %q", url)
	}
	if err := s.client.RemoveObject(ctx, s.cfg.BucketScreenshots, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove screenshot: %w", err)
	}
	return nil
}

func (s *Screenshots) MaxUploadBytes() int64 {
	return s.cfg.MaxUploadBytes
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
