package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/ingestion"
	"github.com/rag-agent/backend/internal/store"
	"github.com/rag-agent/backend/pkg/logger"
)

type DocumentService interface {
	IndexDocument(ctx context.Context, req ingestion.IndexRequest) (*ingestion.IndexResult, error)
	UpdateDocument(ctx context.Context, docID string, req ingestion.UpdateRequest) (*ingestion.IndexResult, error)
	RemoveDocument(ctx context.Context, docID string) error
	GetDocument(ctx context.Context, docID string) (*store.Document, error)
}

type DocumentHandler struct {
	documents DocumentService
}

func NewDocumentHandler(documents DocumentService) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
	}
}

func (h *DocumentHandler) CreateDocument(c *fiber.Ctx) error {
	var req ingestion.IndexRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	res, err := h.documents.IndexDocument(c.UserContext(), req)
	if err != nil {
		logger.Error("Failed to index document", zap.String("doc_id", req.DocID), zap.Error(err))
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Document indexed successfully",
		"doc_id":  res.DocID,
		"title":   res.Title,
		"chunks":  res.Chunks,
	})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	doc, err := h.documents.GetDocument(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(doc)
}

func (h *DocumentHandler) UpdateDocument(c *fiber.Ctx) error {
	var req ingestion.UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	id := c.Params("id")
	res, err := h.documents.UpdateDocument(c.UserContext(), id, req)
	if err != nil {
		logger.Error("Failed to update document", zap.String("doc_id", id), zap.Error(err))
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Document updated successfully",
		"doc_id":  res.DocID,
		"title":   res.Title,
		"chunks":  res.Chunks,
	})
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.documents.RemoveDocument(c.UserContext(), id); err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Document removed successfully",
		"doc_id":  id,
	})
}
