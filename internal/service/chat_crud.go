package service

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"pomelo/internal/model"
)

// validateSpans span 配置校验：id 不得重复
// 重复 id 会让叶子指针和按 id 落库的助手消息无法区分归属
func validateSpans(spans []model.ChatSpan) error {
	seen := map[byte]bool{}
	for _, sp := range spans {
		if seen[sp.SpanID] {
			return fmt.Errorf("%w: %d", ErrDuplicateSpan, sp.SpanID)
		}
		seen[sp.SpanID] = true
	}
	return nil
}

// CreateChat 创建会话，未指定 span 时给一个默认禁用位
func (s *ChatService) CreateChat(ctx context.Context, userID string, req *model.CreateChatRequest) (*model.Chat, error) {
	if err := validateSpans(req.Spans); err != nil {
		return nil, err
	}
	chat := &model.Chat{
		UserID: userID,
		Title:  req.Title,
		Spans:  req.Spans,
	}
	if err := s.chatRepo.Create(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// ListChats 会话列表（不含消息树）
func (s *ChatService) ListChats(ctx context.Context, userID string, limit, offset int64) ([]*model.ChatListItem, error) {
	chats, err := s.chatRepo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	items := make([]*model.ChatListItem, 0, len(chats))
	for _, c := range chats {
		item := &model.ChatListItem{
			ID:        c.ID.Hex(),
			Title:     c.Title,
			UpdatedAt: c.UpdatedAt.Unix(),
		}
		if c.LeafMessageID != nil {
			item.LeafMessageID = c.LeafMessageID.Hex()
		}
		items = append(items, item)
	}
	return items, nil
}

// ChatDetail 会话详情：会话本体加完整消息树
type ChatDetail struct {
	Chat     *model.Chat      `json:"chat"`
	Messages []*model.Message `json:"messages"`
}

// GetChat 取会话及其消息树（内容已回填）
func (s *ChatService) GetChat(ctx context.Context, userID, chatID string) (*ChatDetail, error) {
	chat, err := s.chatRepo.FindByIDForUser(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messageRepo.ListHeadersByChat(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	if err := s.messageRepo.HydrateContents(ctx, msgs); err != nil {
		return nil, err
	}

	return &ChatDetail{Chat: chat, Messages: msgs}, nil
}

// UpdateSpans 整体替换会话的 span 配置
func (s *ChatService) UpdateSpans(ctx context.Context, userID, chatID string, spans []model.ChatSpan) error {
	chat, err := s.chatRepo.FindByIDForUser(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if s.maxSpans > 0 && len(spans) > s.maxSpans {
		return ErrTooManySpans
	}
	if err := validateSpans(spans); err != nil {
		return err
	}
	return s.chatRepo.UpdateSpans(ctx, chat.ID, spans)
}

// DeleteChat 删除会话及其全部消息
func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID string) error {
	chat, err := s.chatRepo.FindByIDForUser(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if err := s.messageRepo.DeleteByChat(ctx, chat.ID); err != nil {
		return err
	}
	return s.chatRepo.Delete(ctx, chatID, userID)
}

// SetLeaf 客户端切换分支时手动移动叶子指针
func (s *ChatService) SetLeaf(ctx context.Context, userID, chatID, messageID string) error {
	chat, err := s.chatRepo.FindByIDForUser(ctx, chatID, userID)
	if err != nil {
		return err
	}
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return ErrBadParent
	}
	msg, err := s.messageRepo.FindByID(ctx, oid)
	if err != nil {
		return err
	}
	if msg.ChatID != chat.ID {
		return ErrBadParent
	}
	return s.chatRepo.SetLeaf(ctx, chat.ID, oid)
}
