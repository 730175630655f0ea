package export

import (
	"DeepDistill/backend/go/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// DocStore 把文档写入 MongoDB 集合，每份文档一条记录。
type DocStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewDocStore 创建 MongoDB 后端。
func NewDocStore(coll *mongo.Collection) (*DocStore, error) {
	if coll == nil {
		return nil, errors.New("mongo collection is nil")
	}
	return &DocStore{coll: coll, now: time.Now}, nil
}

func (d *DocStore) Name() string { return "mongo" }

func (d *DocStore) Upload(ctx context.Context, f File) (models.ExportedDoc, error) {
	res, err := d.coll.InsertOne(ctx, bson.M{
		"title":      f.Title,
		"filename":   f.Name(),
		"category":   f.Category,
		"mime_type":  f.MimeType,
		"is_raw":     f.IsRaw,
		"content":    primitive.Binary{Data: f.Data},
		"created_at": d.now().UTC(),
	})
	if err != nil {
		return models.ExportedDoc{}, fmt.Errorf("failed to insert %s: %w", f.Name(), err)
	}
	id := fmt.Sprint(res.InsertedID)
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		id = oid.Hex()
	}
	return models.ExportedDoc{
		DocID:  id,
		DocURL: fmt.Sprintf("mongodb://%s/%s/%s", d.coll.Database().Name(), d.coll.Name(), id),
		Title:  f.Title,
		IsRaw:  f.IsRaw,
	}, nil
}

func (d *DocStore) FolderURL(context.Context, string) (string, error) { return "", nil }

// Retryable 重试网络和超时类错误，写入冲突等其他错误直接失败。
func (d *DocStore) Retryable(err error) bool {
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}
