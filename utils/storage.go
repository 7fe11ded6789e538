// proof-of-human/utils/storage.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// LocalStorage keeps database exports on local disk.
type LocalStorage struct {
	ExportDir string
}

func (ls *LocalStorage) SaveExport(name string, data []byte) (string, error) {
	if err := os.MkdirAll(ls.ExportDir, 0755); err != nil {
		return "", err
	}
	fullPath := filepath.Join(ls.ExportDir, name)
	if err := os.WriteFile(fullPath, data, 0600); err != nil {
		return "", err
	}
	return fullPath, nil
}

// S3Storage pushes database exports to S3-compatible object storage.
type S3Storage struct {
	Client     *minio.Client
	BucketName string
}

func NewS3Storage(endpoint, accessKey, secretKey, bucket, region string, useSSL bool) (*S3Storage, error) {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	var creds *credentials.Credentials
	if accessKey == "" || secretKey == "" {
		// Fall back to IAM role credentials when keys are not provided.
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(accessKey, secretKey, "")
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := minioClient.BucketExists(context.Background(), bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	return &S3Storage{Client: minioClient, BucketName: bucket}, nil
}

func (s3 *S3Storage) SaveExport(name string, data []byte) (string, error) {
	_, err := s3.Client.PutObject(context.Background(), s3.BucketName, name,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/vnd.sqlite3"})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", s3.BucketName, name), nil
}
