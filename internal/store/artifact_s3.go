package store

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures the object-storage artifact backend.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3ArtifactStore writes stage artifacts to an S3-compatible bucket under
// the same key layout the filesystem backend uses. The returned location is
// an s3:// URL.
type S3ArtifactStore struct {
	client     *minio.Client
	bucketName string
	region     string
	initOnce   sync.Once
	initErr    error
}

// NewS3ArtifactStore validates the config and builds the client. The bucket
// is created lazily on first write.
func NewS3ArtifactStore(cfg S3Config) (*S3ArtifactStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3ArtifactStore{
		client:     client,
		bucketName: bucket,
		region:     region,
	}, nil
}

func (s *S3ArtifactStore) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *S3ArtifactStore) WriteCallArtifact(ctx context.Context, incidentID, trcID, name string, content []byte) (string, error) {
	if err := validateArtifactParts(incidentID, name); err != nil {
		return "", err
	}
	if strings.TrimSpace(trcID) == "" {
		return "", fmt.Errorf("trc id is required")
	}
	return s.put(ctx, path.Join(artifactsDir, incidentID, trcID, name), content)
}

func (s *S3ArtifactStore) WriteIncidentArtifact(ctx context.Context, incidentID, name string, content []byte) (string, error) {
	if err := validateArtifactParts(incidentID, name); err != nil {
		return "", err
	}
	return s.put(ctx, path.Join(artifactsDir, incidentID, name), content)
}

func (s *S3ArtifactStore) put(ctx context.Context, key string, content []byte) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket %s: %w", s.bucketName, err)
	}
	contentType := "text/plain; charset=utf-8"
	if strings.HasSuffix(key, ".json") {
		contentType = "application/json"
	}
	_, err := s.client.PutObject(ctx, s.bucketName, key,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucketName, key), nil
}
