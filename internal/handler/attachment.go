package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pomelo/internal/model"
	"pomelo/internal/pkg/ctxutil"
	"pomelo/internal/service"
)

// AttachmentHandler 附件处理器
type AttachmentHandler struct {
	attachmentSvc *service.AttachmentService
}

// NewAttachmentHandler 创建附件处理器
func NewAttachmentHandler(attachmentSvc *service.AttachmentService) *AttachmentHandler {
	return &AttachmentHandler{attachmentSvc: attachmentSvc}
}

// mapAttachmentError 附件错误转 HTTP 状态
func mapAttachmentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAttachmentNotFound):
		c.JSON(http.StatusNotFound, model.ErrorResponse{Code: 40403, Message: err.Error()})
	case errors.Is(err, service.ErrAttachmentEmpty),
		errors.Is(err, service.ErrAttachmentTooBig),
		errors.Is(err, service.ErrBadChatID):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40004, Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Code: 50001, Message: "internal error", Detail: err.Error()})
	}
}

// Upload 上传附件 (multipart/form-data)
// @Summary 上传文件，返回后续回合里引用的 file_key
// @Tags attachment
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "上传的文件"
// @Param chat_id formData string false "归属会话 ID"
// @Router /api/v1/attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "Invalid file", Detail: err.Error()})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "Failed to open file", Detail: err.Error()})
		return
	}
	defer src.Close()

	userID, _ := ctxutil.GetUserID(c.Request.Context())
	att, err := h.attachmentSvc.Upload(c.Request.Context(), userID, &service.AttachmentUpload{
		FileName:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Size:        file.Size,
		ChatID:      c.PostForm("chat_id"),
		Data:        src,
	})
	if err != nil {
		mapAttachmentError(c, err)
		return
	}
	c.JSON(http.StatusCreated, att)
}

// List 附件列表
// @Summary 当前用户的附件，可按会话过滤
// @Tags attachment
// @Param chat_id query string false "会话 ID"
// @Router /api/v1/attachments [get]
func (h *AttachmentHandler) List(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

	userID, _ := ctxutil.GetUserID(c.Request.Context())
	atts, err := h.attachmentSvc.List(c.Request.Context(), userID, c.Query("chat_id"), limit, offset)
	if err != nil {
		mapAttachmentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attachments": atts})
}

// DownloadURL 签发临时下载地址
// @Summary 附件的临时下载 URL
// @Tags attachment
// @Param id path string true "附件 ID"
// @Router /api/v1/attachments/{id}/download-url [get]
func (h *AttachmentHandler) DownloadURL(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())
	att, err := h.attachmentSvc.PresignDownload(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		mapAttachmentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":        att.URL,
		"expires_in": int(h.attachmentSvc.PresignTTL().Seconds()),
	})
}

// Delete 删除附件
// @Summary 删除附件记录及其文件
// @Tags attachment
// @Param id path string true "附件 ID"
// @Router /api/v1/attachments/{id} [delete]
func (h *AttachmentHandler) Delete(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())
	if err := h.attachmentSvc.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		mapAttachmentError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
