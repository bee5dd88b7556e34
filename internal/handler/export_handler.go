package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/promo-engine/internal/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ExportService interface {
	Lookup(ctx context.Context, batchID string) (*domain.Batch, error)
	ExportBatch(ctx context.Context, batchID string, w io.Writer) (int, error)
}

type ExportHandler struct {
	service ExportService
}

func NewExportHandler(service ExportService) (*ExportHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("export service is required")
	}
	return &ExportHandler{service: service}, nil
}

func RegisterExportRoutes(router fiber.Router, service ExportService) error {
	h, err := NewExportHandler(service)
	if err != nil {
		return err
	}

	router.Group("/v1").Get("/batches/:id/export", h.ExportBatch)
	return nil
}

func (h *ExportHandler) ExportBatch(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("id"))
	batch, err := h.service.Lookup(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	var buf bytes.Buffer
	if _, err := h.service.ExportBatch(c.Context(), batch.ID, &buf); err != nil {
		return toHTTPError(err)
	}

	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, "attachment; filename="+strconv.Quote(batch.Name+".xlsx"))
	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}
