package intake

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioArchive keeps a copy of every uploaded document in a bucket.
type MinioArchive struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

func NewMinioArchive(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &MinioArchive{client: client, bucket: bucket, now: time.Now}, nil
}

// Archive stores content and returns its object key.
func (a *MinioArchive) Archive(ctx context.Context, filename string, content []byte) (string, error) {
	key := objectKey(a.now(), filename)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"original-filename": filename},
	})
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", filename, err)
	}
	return key, nil
}

func objectKey(now time.Time, filename string) string {
	base := path.Base(filepath.ToSlash(filename))
	if base == "." || base == "/" || base == "" {
		base = "document"
	}
	return fmt.Sprintf("documents/%s/%s-%s", now.Format("2006/01/02"), uuid.NewString(), base)
}
