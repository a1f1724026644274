// Package minio implements ledger.SnapshotStore for MinIO and S3-compatible
// object storage.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"golang.org/x/time/rate"

	"github.com/FOCX-Labs/shop-sub001/ledger"
)

var _ ledger.SnapshotStore = (*Store)(nil)

// Store uploads ledger snapshots to a MinIO bucket. Uploads are rate limited
// so periodic snapshotting cannot saturate the uplink.
type Store struct {
	client  *minio.Client
	bucket  string
	prefix  string
	limiter *rate.Limiter
}

// Option configures a Store.
type Option func(*Store)

// WithUploadRateLimit limits uploads to n per second with the given burst.
func WithUploadRateLimit(n float64, burst int) Option {
	return func(s *Store) {
		s.limiter = rate.NewLimiter(rate.Limit(n), burst)
	}
}

// NewStore creates a snapshot store writing into bucket under rootPrefix.
func NewStore(client *minio.Client, bucket, rootPrefix string, optFns ...Option) *Store {
	s := &Store{
		client:  client,
		bucket:  bucket,
		prefix:  rootPrefix,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Put writes a snapshot blob, replacing any previous one.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

// Get reads the snapshot blob stored under name.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil, fmt.Errorf("%w: snapshot %q", ledger.ErrNotFound, name)
		}
		return nil, err
	}
	return data, nil
}
