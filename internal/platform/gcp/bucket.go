package gcp

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/lessongen-backend/internal/platform/envutil"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

// ArchiveBucket stores finished lessons as objects. STORAGE_EMULATOR_HOST is
// honoured by the storage client itself.
type ArchiveBucket interface {
	Upload(ctx context.Context, key string, contentType string, body io.Reader) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Key(parts ...string) string
	Close() error
}

type archiveBucket struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
	prefix string
}

// NewArchiveBucket returns nil, nil when LESSON_ARCHIVE_BUCKET is unset.
func NewArchiveBucket(ctx context.Context, log *logger.Logger) (ArchiveBucket, error) {
	name := envutil.String("LESSON_ARCHIVE_BUCKET", "")
	if name == "" {
		return nil, nil
	}
	var opts []option.ClientOption
	if envutil.String("STORAGE_EMULATOR_HOST", "") == "" {
		opts = ClientOptionsFromEnv()
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	b := &archiveBucket{
		log:    log.With("service", "ArchiveBucket"),
		client: client,
		bucket: name,
		prefix: strings.Trim(envutil.String("LESSON_ARCHIVE_PREFIX", "lessons"), "/"),
	}
	b.log.Info("Lesson archive initialized", "bucket", name, "prefix", b.prefix)
	return b, nil
}

func (b *archiveBucket) Key(parts ...string) string {
	return path.Join(append([]string{b.prefix}, parts...)...)
}

func (b *archiveBucket) Upload(ctx context.Context, key string, contentType string, body io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = contentTypeForKey(key)
	}
	w.ContentType = contentType
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (b *archiveBucket) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", b.bucket, key, err)
	}
	return r, nil
}

func (b *archiveBucket) Close() error { return b.client.Close() }

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".html"), strings.HasSuffix(s, ".htm"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".pdf"):
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
