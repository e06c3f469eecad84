package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pomelo/internal/model"
	"pomelo/internal/pkg/ctxutil"
	"pomelo/internal/service"
)

// ModelHandler 模型目录处理器
type ModelHandler struct {
	modelSvc *service.ModelService
}

// NewModelHandler 创建模型目录处理器
func NewModelHandler(modelSvc *service.ModelService) *ModelHandler {
	return &ModelHandler{modelSvc: modelSvc}
}

// ListAvailable 当前用户可用的模型
// @Summary 列出有有效授权的模型及剩余额度
// @Tags model
// @Router /api/v1/models [get]
func (h *ModelHandler) ListAvailable(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())
	models, err := h.modelSvc.ListAvailable(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Code: 50001, Message: "internal error", Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// AdminList 管理端列出全部模型定义
func (h *ModelHandler) AdminList(c *gin.Context) {
	defs, err := h.modelSvc.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Code: 50001, Message: "internal error", Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": defs})
}

// AdminUpsert 管理端新建或更新模型定义
func (h *ModelHandler) AdminUpsert(c *gin.Context) {
	var def model.ModelDef
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: "Invalid request body", Detail: err.Error()})
		return
	}
	if err := h.modelSvc.Upsert(c.Request.Context(), &def); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40003, Message: "invalid model definition", Detail: err.Error()})
		return
	}
	c.JSON(http.StatusOK, def)
}

// AdminValidate 管理端连通性校验
// @Summary 校验模型定义能否访问上游
// @Tags model
// @Router /api/v1/admin/models/{modelId}/validate [post]
func (h *ModelHandler) AdminValidate(c *gin.Context) {
	if err := h.modelSvc.Validate(c.Request.Context(), c.Param("modelId")); err != nil {
		c.JSON(http.StatusBadGateway, model.ErrorResponse{Code: 50201, Message: "model validation failed", Detail: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
