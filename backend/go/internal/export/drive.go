package export

import (
	"DeepDistill/backend/go/internal/config"
	"DeepDistill/backend/go/internal/models"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMime    = "application/vnd.google-apps.folder"
	googleDocMime = "application/vnd.google-apps.document"
	defaultRoot   = "DeepDistill"
)

// Drive 把文档上传到 Google Drive，每个分类一个子文件夹。
type Drive struct {
	svc      *drive.Service
	rootName string

	mu      sync.Mutex
	rootID  string
	folders map[string]string // 分类 -> 文件夹 ID
}

// NewDrive 使用服务账号凭证创建 Drive 后端。opts 会追加在凭证之后，测试可借此替换端点。
func NewDrive(ctx context.Context, cfg config.DriveConfig, opts ...option.ClientOption) (*Drive, error) {
	var all []option.ClientOption
	if cfg.CredentialsFile != "" {
		all = append(all, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	all = append(all, option.WithScopes(drive.DriveScope))
	all = append(all, opts...)

	svc, err := drive.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	root := cfg.RootFolderName
	if root == "" {
		root = defaultRoot
	}
	return &Drive{svc: svc, rootName: root, rootID: cfg.RootFolderID, folders: make(map[string]string)}, nil
}

func (d *Drive) Name() string { return "drive" }

// Upload 上传文件。Convert 为 true 的 Markdown 会被转换为 Google Docs 文档。
func (d *Drive) Upload(ctx context.Context, f File) (models.ExportedDoc, error) {
	parent, err := d.folder(ctx, f.Category)
	if err != nil {
		return models.ExportedDoc{}, err
	}
	meta := &drive.File{Name: f.Name(), Parents: []string{parent}}
	if f.Convert {
		meta.MimeType = googleDocMime
	}
	created, err := d.svc.Files.Create(meta).
		Media(bytes.NewReader(f.Data), googleapi.ContentType(f.MimeType)).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return models.ExportedDoc{}, fmt.Errorf("failed to upload %s: %w", f.Name(), err)
	}

	link := created.WebViewLink
	if link == "" {
		if f.Convert {
			link = fmt.Sprintf("https://docs.google.com/document/d/%s/edit", created.Id)
		} else {
			link = fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id)
		}
	}
	return models.ExportedDoc{DocID: created.Id, DocURL: link, Title: f.Title, IsRaw: f.IsRaw}, nil
}

// FolderURL 返回分类子文件夹的链接，必要时创建文件夹。
func (d *Drive) FolderURL(ctx context.Context, category string) (string, error) {
	id, err := d.folder(ctx, category)
	if err != nil {
		return "", err
	}
	return "https://drive.google.com/drive/folders/" + id, nil
}

// Retryable 只重试限流和服务端错误。
func (d *Drive) Retryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

// folder 返回分类子文件夹 ID，不存在时在根文件夹下创建。结果会被缓存。
func (d *Drive) folder(ctx context.Context, category string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.folders[category]; ok {
		return id, nil
	}
	if d.rootID == "" {
		id, err := d.findOrCreate(ctx, d.rootName, "")
		if err != nil {
			return "", fmt.Errorf("failed to resolve root folder: %w", err)
		}
		d.rootID = id
	}
	id, err := d.findOrCreate(ctx, category, d.rootID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve folder %s: %w", category, err)
	}
	d.folders[category] = id
	return id, nil
}

func (d *Drive) findOrCreate(ctx context.Context, name, parent string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeQuery(name), folderMime)
	if parent != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(parent))
	}
	list, err := d.svc.Files.List().Q(q).Spaces("drive").Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	meta := &drive.File{Name: name, MimeType: folderMime}
	if parent != "" {
		meta.Parents = []string{parent}
	}
	created, err := d.svc.Files.Create(meta).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
