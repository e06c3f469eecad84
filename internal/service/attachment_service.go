package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"pomelo/internal/model"
	"pomelo/internal/pkg/id"
	"pomelo/internal/pkg/storage"
	"pomelo/internal/repository"
)

// maxAttachmentSize 单个附件上限
const maxAttachmentSize = 32 << 20

var (
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrAttachmentEmpty    = errors.New("attachment data is empty")
	ErrAttachmentTooBig   = errors.New("attachment exceeds size limit")
	ErrBadChatID          = errors.New("invalid chat id")
)

// AttachmentService 聊天附件：上传落盘、登记、签发下载地址
// 消息里通过内容片段的 file_key 引用附件，回合组装上下文时再签发临时 URL
type AttachmentService struct {
	repo       *repository.AttachmentRepo
	store      storage.Storage
	presignTTL time.Duration
}

// NewAttachmentService 创建附件服务
func NewAttachmentService(repo *repository.AttachmentRepo, store storage.Storage) *AttachmentService {
	return &AttachmentService{
		repo:       repo,
		store:      store,
		presignTTL: time.Hour,
	}
}

// AttachmentUpload 一次上传的输入
type AttachmentUpload struct {
	FileName    string
	ContentType string
	Size        int64
	ChatID      string // 可选，归属的会话
	Data        io.Reader
}

// Upload 保存文件并登记附件记录
func (s *AttachmentService) Upload(ctx context.Context, userID string, in *AttachmentUpload) (*model.Attachment, error) {
	if in.Size <= 0 {
		return nil, ErrAttachmentEmpty
	}
	if in.Size > maxAttachmentSize {
		return nil, ErrAttachmentTooBig
	}

	var chatID *primitive.ObjectID
	if in.ChatID != "" {
		oid, err := primitive.ObjectIDFromHex(in.ChatID)
		if err != nil {
			return nil, ErrBadChatID
		}
		chatID = &oid
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := attachmentKey(userID, in.FileName)
	url, err := s.store.Upload(ctx, key, in.Data, contentType)
	if err != nil {
		return nil, err
	}

	att := &model.Attachment{
		ID:          id.New(),
		UserID:      userID,
		ChatID:      chatID,
		FileName:    in.FileName,
		ContentType: contentType,
		FileSize:    in.Size,
		StorageKey:  key,
		StorageType: s.store.GetStorageType(),
		URL:         url,
	}
	if err := s.repo.Create(ctx, att); err != nil {
		// 登记失败时回收孤儿文件
		if derr := s.store.Delete(ctx, key); derr != nil {
			log.Warn().Err(derr).Str("key", key).Msg("failed to clean up orphan attachment blob")
		}
		return nil, err
	}
	return att, nil
}

// PresignDownload 校验归属并签发临时下载地址
func (s *AttachmentService) PresignDownload(ctx context.Context, userID, attachmentID string) (*model.Attachment, error) {
	att, err := s.repo.FindByIDForUser(ctx, attachmentID, userID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAttachmentNotFound
		}
		return nil, err
	}

	url, err := s.store.GetPresignedDownloadURL(ctx, att.StorageKey, s.presignTTL)
	if err != nil {
		return nil, err
	}
	att.URL = url
	return att, nil
}

// List 用户附件列表，可按会话过滤
func (s *AttachmentService) List(ctx context.Context, userID, chatID string, limit, offset int64) ([]*model.Attachment, error) {
	var oid *primitive.ObjectID
	if chatID != "" {
		parsed, err := primitive.ObjectIDFromHex(chatID)
		if err != nil {
			return nil, ErrBadChatID
		}
		oid = &parsed
	}
	return s.repo.ListByUser(ctx, userID, oid, limit, offset)
}

// Delete 删除附件记录及其文件
func (s *AttachmentService) Delete(ctx context.Context, userID, attachmentID string) error {
	att, err := s.repo.FindByIDForUser(ctx, attachmentID, userID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrAttachmentNotFound
		}
		return err
	}
	if err := s.repo.Delete(ctx, attachmentID, userID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, att.StorageKey); err != nil {
		log.Warn().Err(err).Str("key", att.StorageKey).Msg("failed to delete attachment blob")
	}
	return nil
}

// PresignTTL 下载地址有效期
func (s *AttachmentService) PresignTTL() time.Duration {
	return s.presignTTL
}

// attachmentKey 存储 key：attachments/<user>/<uuid>.<ext>
func attachmentKey(userID, fileName string) string {
	return "attachments/" + userID + "/" + id.New() + "." + attachmentExt(fileName)
}

// attachmentExt 文件扩展名（不含点号），无法判断时归为 bin
func attachmentExt(fileName string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	if ext == "" {
		return "bin"
	}
	return ext
}
