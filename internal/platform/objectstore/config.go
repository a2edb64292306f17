package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sjkd23/console-sub003/internal/platform/env"
)

type Config struct {
	Endpoint          string
	AccessKey         string
	SecretKey         string
	Region            string
	UseSSL            bool
	BucketScreenshots string
	// PublicBaseURL prefixes stored object keys when building the URL
	// recorded on a run. Empty means the MinIO endpoint itself.
	PublicBaseURL     string
	MaxUploadBytes    int64
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("RUNS_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	maxUpload, err := env.Int("RUNS_SCREENSHOT_MAX_BYTES", 8<<20)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:          env.String("RUNS_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:         env.String("RUNS_MINIO_ACCESS_KEY", "raids"),
		SecretKey:         env.String("RUNS_MINIO_SECRET_KEY", "raidsminio"),
		Region:            env.String("RUNS_MINIO_REGION", "us-east-1"),
		UseSSL:            useSSL,
		BucketScreenshots: env.String("RUNS_MINIO_BUCKET_SCREENSHOTS", "run-screenshots"),
		PublicBaseURL:     env.String("RUNS_SCREENSHOT_PUBLIC_BASE_URL", ""),
		MaxUploadBytes:    int64(maxUpload),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketScreenshots) == "" {
		return errors.New("screenshots bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	return nil
}

// ObjectURL is the URL recorded on a run for an uploaded object key.
func (c Config) ObjectURL(key string) string {
	return c.urlBase() + "/" + strings.TrimLeft(key, "/")
}

// ObjectKey reverses ObjectURL.
func (c Config) ObjectKey(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, c.urlBase()+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

func (c Config) urlBase() string {
	base := strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	if base == "" {
		scheme := "http"
		if c.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + c.Endpoint + "/" + c.BucketScreenshots
	}
	return base
}
