package version

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Blobs is a content-addressed payload store.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ErrBlobNotFound is returned by Blobs.Get for an unknown key.
var ErrBlobNotFound = errors.New("blob not found")

// GCSBlobs stores payloads in a Google Cloud Storage bucket under
// "<prefix>/<sha256>".
type GCSBlobs struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSBlobs connects to bucket. When credentialsFile is empty the
// environment's default credentials are used.
func NewGCSBlobs(ctx context.Context, bucket, credentialsFile, prefix string) (*GCSBlobs, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("gcs credentials file %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if prefix == "" {
		prefix = "versions"
	}
	return &GCSBlobs{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCSBlobs) object(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.prefix + "/" + key)
}

// Put writes data unless an object with the same key already exists. Keys
// are content addresses, so an existing object already holds these bytes.
func (g *GCSBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := g.object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write gcs object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("close gcs writer for %s: %w", key, err)
	}
	return nil
}

func (g *GCSBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("open gcs object %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gcs object %s: %w", key, err)
	}
	return data, nil
}

// Close releases the client.
func (g *GCSBlobs) Close() error { return g.client.Close() }

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
