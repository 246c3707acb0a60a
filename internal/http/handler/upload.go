package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cyodesign.app/atelier/internal/http/dto"
	"cyodesign.app/atelier/internal/service"
	"cyodesign.app/atelier/internal/storage"
)

type UploadHandler struct {
	uploads service.UploadService
}

func NewUploadHandler(uploads service.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

func (h *UploadHandler) CreateSignedURL(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SignedURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	url, err := h.uploads.SignedURL(ctx, req.UserID, req.Key, req.ContentType)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(ctx, "failed to sign upload", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create signed url"})
		return
	}

	c.JSON(http.StatusOK, url)
}
