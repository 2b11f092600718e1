// Package gcs writes documents to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Config names the destination bucket and an optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Sink uploads documents as GCS objects.
type Sink struct {
	client    *storage.Client
	bucket    string
	prefix    string
	ownClient bool
	logger    *zap.Logger
}

// Open creates a client (Application Default Credentials unless opts say
// otherwise) and checks the bucket is reachable.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Sink, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "create gcs client")
	}
	s, err := New(client, cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.ownClient = true
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			s.logger.Warn("close gcs client after bucket check", zap.Error(closeErr))
		}
		return nil, eris.Wrapf(err, "get gcs bucket %q attributes", cfg.Bucket)
	}
	return s, nil
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*Sink, error) {
	if client == nil {
		return nil, eris.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, eris.New("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.Named("sink.gcs"),
	}, nil
}

// ObjectName is the object that Put(name) writes.
func (s *Sink) ObjectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Put uploads data and returns a gs:// URI.
func (s *Sink) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", eris.New("name is required")
	}
	object := s.ObjectName(name)
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			s.logger.Warn("close gcs writer after write failure", zap.String("object", object), zap.Error(closeErr))
		}
		return "", eris.Wrapf(err, "write gcs object %s", object)
	}
	if err := w.Close(); err != nil {
		return "", eris.Wrapf(err, "close gcs writer for %s", object)
	}
	return "gs://" + s.bucket + "/" + object, nil
}

// Close releases the client when the sink created it.
func (s *Sink) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}
