// Package handler exposes the lead pipeline over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chathub_backend/internal/leads/domain"
	"chathub_backend/internal/leads/repository"
	"chathub_backend/internal/leads/transport"
	"chathub_backend/platform/apperr"
	"chathub_backend/platform/httpkit"
	"chathub_backend/platform/logger"
	"chathub_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Pipeline converts one conversation into a persisted lead.
type Pipeline interface {
	Process(ctx context.Context, conv domain.ConversationContext) (domain.LeadRecord, error)
}

// LeadReader serves stored leads back to the API.
type LeadReader interface {
	GetByIdentifier(ctx context.Context, identifier string) (domain.LeadRecord, error)
}

type Handler struct {
	pipeline Pipeline
	reader   LeadReader
	val      *validator.Validator
	log      *logger.Logger
}

func New(pipeline Pipeline, reader LeadReader, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{
		pipeline: pipeline,
		reader:   reader,
		val:      val,
		log:      log.WithComponent("leads_handler"),
	}
}

// ConvertChat ingests a finished conversation and returns the qualified lead.
// POST /api/v1/conversations/convert
func (h *Handler) ConvertChat(c *gin.Context) {
	var req transport.ConvertChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(msgValidationFailed).WithDetails(err.Error()))
		return
	}

	conv := req.ToContext(c.ClientIP())
	if err := conv.Validate(); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	record, err := h.pipeline.Process(c.Request.Context(), conv)
	if err != nil {
		h.log.WithContext(c.Request.Context()).Error("conversion failed", "identifier", conv.Identifier(), "error", err)
		httpkit.HandleError(c, err)
		return
	}

	httpkit.JSON(c, http.StatusCreated, transport.ToLeadResponse(record))
}

// GetLead returns the stored lead for a visitor identifier.
// GET /api/v1/leads/:identifier
func (h *Handler) GetLead(c *gin.Context) {
	identifier := c.Param("identifier")
	if err := h.val.Var(identifier, "required,max=254"); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	record, err := h.reader.GetByIdentifier(c.Request.Context(), identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httpkit.HandleError(c, apperr.NotFound("lead not found"))
			return
		}
		h.log.WithContext(c.Request.Context()).DatabaseError("get lead", err)
		httpkit.HandleError(c, apperr.Internal("failed to load lead"))
		return
	}

	httpkit.OK(c, transport.ToLeadResponse(record))
}
