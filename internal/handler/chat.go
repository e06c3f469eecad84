package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"pomelo/internal/model"
	"pomelo/internal/pkg/ctxutil"
	"pomelo/internal/service"
)

// ChatHandler 会话处理器
type ChatHandler struct {
	chatSvc *service.ChatService
}

// NewChatHandler 创建会话处理器
func NewChatHandler(chatSvc *service.ChatService) *ChatHandler {
	return &ChatHandler{chatSvc: chatSvc}
}

// sseEmitter 把事件行按 data 帧写出并立即冲刷
func sseEmitter(c *gin.Context) service.Emit {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, _ := c.Writer.(http.Flusher)
	return func(line model.SseLine) error {
		data, err := json.Marshal(line)
		if err != nil {
			return err
		}
		if _, err := c.Writer.WriteString("data: " + string(data) + "\r\n\r\n"); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}
}

// mapChatError 校验错误转 HTTP 状态
func mapChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		c.JSON(http.StatusNotFound, model.ErrorResponse{Code: 40401, Message: "chat not found"})
	case errors.Is(err, service.ErrModelNotGranted):
		c.JSON(http.StatusForbidden, model.ErrorResponse{Code: 40301, Message: "model not granted", Detail: err.Error()})
	case errors.Is(err, service.ErrBadParent),
		errors.Is(err, service.ErrEmptyUserMessage),
		errors.Is(err, service.ErrNoEnabledSpans),
		errors.Is(err, service.ErrTooManySpans),
		errors.Is(err, service.ErrDuplicateSpan),
		errors.Is(err, service.ErrSpanNotFound):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40002, Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Code: 50001, Message: "internal error", Detail: err.Error()})
	}
}

// Turn 新回合接口 (SSE)
// @Summary 发起一个新回合，所有启用的 span 并发生成
// @Tags chat
// @Accept json
// @Produce text/event-stream
// @Param request body model.TurnRequest true "回合请求"
// @Router /api/v1/chats/turn [post]
func (h *ChatHandler) Turn(c *gin.Context) {
	var req model.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	userID, _ := ctxutil.GetUserID(c.Request.Context())
	if err := h.chatSvc.Turn(c.Request.Context(), userID, &req, sseEmitter(c)); err != nil {
		mapChatError(c, err)
	}
}

// Regenerate 重新生成接口 (SSE)
// @Summary 在同一父节点下重新生成单个 span，可替换模型
// @Tags chat
// @Accept json
// @Produce text/event-stream
// @Param request body model.RegenerateRequest true "重新生成请求"
// @Router /api/v1/chats/regenerate [post]
func (h *ChatHandler) Regenerate(c *gin.Context) {
	var req model.RegenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	userID, _ := ctxutil.GetUserID(c.Request.Context())
	if err := h.chatSvc.Regenerate(c.Request.Context(), userID, &req, sseEmitter(c)); err != nil {
		mapChatError(c, err)
	}
}

// Stop 中断生成接口
// @Summary 按 stop id 取消一次生成的流式阶段
// @Tags chat
// @Param stopId path string true "stop id"
// @Router /api/v1/chats/stop/{stopId} [post]
func (h *ChatHandler) Stop(c *gin.Context) {
	stopID := c.Param("stopId")
	if !h.chatSvc.Stop(stopID) {
		c.JSON(http.StatusNotFound, model.ErrorResponse{Code: 40402, Message: "stop id not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Create 创建会话
func (h *ChatHandler) Create(c *gin.Context) {
	var req model.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "Invalid request body", Detail: err.Error()})
		return
	}

	userID, _ := ctxutil.GetUserID(c.Request.Context())
	chat, err := h.chatSvc.CreateChat(c.Request.Context(), userID, &req)
	if err != nil {
		mapChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// List 会话列表
func (h *ChatHandler) List(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

	userID, _ := ctxutil.GetUserID(c.Request.Context())
	items, err := h.chatSvc.ListChats(c.Request.Context(), userID, limit, offset)
	if err != nil {
		mapChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": items})
}

// Get 会话详情（含消息树）
func (h *ChatHandler) Get(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())
	detail, err := h.chatSvc.GetChat(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		mapChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// UpdateSpans 更新会话 span 配置
func (h *ChatHandler) UpdateSpans(c *gin.Context) {
	var req struct {
		Spans []model.ChatSpan `json:"spans" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "Invalid request body", Detail: err.Error()})
		return
	}

	userID, _ := ctxutil.GetUserID(c.Request.Context())
	if err := h.chatSvc.UpdateSpans(c.Request.Context(), userID, c.Param("id"), req.Spans); err != nil {
		mapChatError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetLeaf 切换分支：移动叶子指针
func (h *ChatHandler) SetLeaf(c *gin.Context) {
	var req struct {
		MessageID string `json:"message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "Invalid request body", Detail: err.Error()})
		return
	}

	userID, _ := ctxutil.GetUserID(c.Request.Context())
	if err := h.chatSvc.SetLeaf(c.Request.Context(), userID, c.Param("id"), req.MessageID); err != nil {
		mapChatError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete 删除会话
func (h *ChatHandler) Delete(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())
	if err := h.chatSvc.DeleteChat(c.Request.Context(), userID, c.Param("id")); err != nil {
		mapChatError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
