package files

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

var ErrNotExist = errors.New("object does not exist")

// Storage is the part of object storage the judge reads problem data from
// and writes source artifacts to.
type Storage interface {
	GetFile(ctx context.Context, filename string) ([]byte, error)
	PutFile(ctx context.Context, filename string, data []byte, contentType string) error
}

type FileStorage struct {
	cl     *minio.Client
	Bucket string
}

type Config struct {
	Url      string
	Login    string
	Password string
	Bucket   string
	UseSSL   bool
}

func NewFileStorage(ctx context.Context, cfg Config) (*FileStorage, error) {
	client, err := minio.New(cfg.Url, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Login, cfg.Password, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check bucket")
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "failed to create bucket %s", cfg.Bucket)
		}
	}
	return &FileStorage{cl: client, Bucket: cfg.Bucket}, nil
}

func (s *FileStorage) GetFile(ctx context.Context, filename string) ([]byte, error) {
	file, err := s.cl.GetObject(ctx, s.Bucket, filename, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", filename)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.Wrap(ErrNotExist, filename)
		}
		return nil, errors.Wrapf(err, "failed to read %s", filename)
	}
	return data, nil
}

func (s *FileStorage) PutFile(ctx context.Context, filename string, data []byte, contentType string) error {
	_, err := s.cl.PutObject(ctx, s.Bucket, filename, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return errors.Wrapf(err, "failed to put %s", filename)
}
