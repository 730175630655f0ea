package export

import (
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/models"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// ObjectStore 把文档作为对象写入 MinIO 存储桶，键为 prefix/分类/标题-ID.扩展名。
type ObjectStore struct {
	client    *minio.Client
	bucket    string
	prefix    string
	publicURL string
}

// NewObjectStore 创建 MinIO 后端。publicURL 为空时使用客户端端点生成链接。
func NewObjectStore(client *minio.Client, bucket string, cfg config.ObjectExportConfig) (*ObjectStore, error) {
	if client == nil {
		return nil, errors.New("minio client is nil")
	}
	if bucket == "" {
		return nil, errors.New("minio bucket is not configured")
	}
	public := strings.TrimRight(cfg.PublicURL, "/")
	if public == "" {
		public = strings.TrimRight(client.EndpointURL().String(), "/")
	}
	return &ObjectStore{client: client, bucket: bucket, prefix: cfg.Prefix, publicURL: public}, nil
}

func (o *ObjectStore) Name() string { return "minio" }

func (o *ObjectStore) Upload(ctx context.Context, f File) (models.ExportedDoc, error) {
	id := uuid.NewString()
	key := objectKey(o.prefix, f.Category, fmt.Sprintf("%s-%s%s", f.Title, id[:8], f.Ext))
	_, err := o.client.PutObject(ctx, o.bucket, key, bytes.NewReader(f.Data), int64(len(f.Data)), minio.PutObjectOptions{
		ContentType:  f.MimeType,
		UserMetadata: map[string]string{"category": url.QueryEscape(f.Category), "raw": fmt.Sprint(f.IsRaw)},
	})
	if err != nil {
		return models.ExportedDoc{}, fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return models.ExportedDoc{DocID: key, DocURL: o.objectURL(key), Title: f.Title, IsRaw: f.IsRaw}, nil
}

func (o *ObjectStore) FolderURL(_ context.Context, category string) (string, error) {
	return o.objectURL(objectKey(o.prefix, category, "")) + "/", nil
}

// Retryable 不重试鉴权和参数类错误。
func (o *ObjectStore) Retryable(err error) bool {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 {
		return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

func (o *ObjectStore) objectURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return o.publicURL + "/" + o.bucket + "/" + strings.Join(parts, "/")
}
