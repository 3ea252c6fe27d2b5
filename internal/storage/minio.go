package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/veritas-ed/docproc/internal/common"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Store is the object-store surface the service needs: result artifacts
// are listed under a prefix, fetched once, and deleted; submissions are
// uploaded.
type Store interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// NewMinIOClient initializes and returns a MinIO client.
func NewMinIOClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, common.WrapError(common.ErrStorage, "minio client init: "+err.Error())
	}
	return client, nil
}

// MinIOStore implements Store against a single bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	log    *slog.Logger
}

func NewMinIOStore(client *minio.Client, bucket string, log *slog.Logger) *MinIOStore {
	return &MinIOStore{client: client, bucket: bucket, log: log}
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return common.WrapError(common.ErrStorage, "checking bucket: "+err.Error())
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return common.WrapError(common.ErrStorage, "creating bucket: "+err.Error())
		}
		s.log.Info("created bucket", "bucket", s.bucket)
	}
	return nil
}

func (s *MinIOStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, common.WrapError(common.ErrStorage, "listing objects: "+obj.Err.Error())
		}
		objects = append(objects, ObjectInfo{Key: obj.Key, Size: obj.Size})
	}
	return objects, nil
}

func (s *MinIOStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, common.WrapError(common.ErrStorage, "fetching object: "+err.Error())
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, common.WrapError(common.ErrStorage, "reading object: "+err.Error())
	}
	return data, nil
}

func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return common.WrapError(common.ErrStorage, "deleting object: "+err.Error())
	}
	return nil
}

func (s *MinIOStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	info, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return common.WrapError(common.ErrStorage, "uploading object: "+err.Error())
	}
	s.log.Info("uploaded object", "key", key, "size", info.Size)
	return nil
}
