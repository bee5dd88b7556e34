package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/promo-engine/internal/domain"
	"github.com/kursadbilgin/promo-engine/internal/service"
)

type GenerationService interface {
	Submit(ctx context.Context, req domain.GenerateRequest) (string, error)
	Status(ctx context.Context, jobID string) (*service.JobStatus, error)
}

type GenerateHandler struct {
	service  GenerationService
	validate *validator.Validate
}

func NewGenerateHandler(service GenerationService, validate *validator.Validate) (*GenerateHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("generation service is required")
	}
	if validate == nil {
		validate = validator.New()
	}
	return &GenerateHandler{service: service, validate: validate}, nil
}

func RegisterGenerateRoutes(router fiber.Router, service GenerationService, validate *validator.Validate) error {
	h, err := NewGenerateHandler(service, validate)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/generate", h.Submit)
	v1.Get("/generate/status", h.Status)

	return nil
}

type generateRequest struct {
	Name      string          `json:"name" validate:"max=200"`
	Prefix    string          `json:"prefix" validate:"max=32"`
	Length    int             `json:"length" validate:"gte=0"`
	Count     int             `json:"count"`
	ExpiresAt *string         `json:"expiresAt"`
	Metadata  json.RawMessage `json:"metadata"`
	Format    string          `json:"format" validate:"omitempty,max=16"`
}

type generateResponse struct {
	JobID string `json:"jobId"`
}

type jobStatusResponse struct {
	State        string                 `json:"state"`
	Progress     *int                   `json:"progress"`
	ReturnValue  *domain.GenerateResult `json:"returnValue"`
	FailedReason string                 `json:"failedReason,omitempty"`
}

func (h *GenerateHandler) Submit(c *fiber.Ctx) error {
	var req generateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return toHTTPError(fmt.Errorf("%w: %s", domain.ErrValidation, validationMessage(err)))
	}

	metadata, err := metadataText(req.Metadata)
	if err != nil {
		return toHTTPError(err)
	}

	jobID, err := h.service.Submit(c.Context(), domain.GenerateRequest{
		Name:      req.Name,
		Prefix:    req.Prefix,
		Length:    req.Length,
		Count:     req.Count,
		ExpiresAt: req.ExpiresAt,
		Metadata:  metadata,
		Format:    domain.CodeFormat(req.Format),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(generateResponse{JobID: jobID})
}

func (h *GenerateHandler) Status(c *fiber.Ctx) error {
	status, err := h.service.Status(c.Context(), c.Query("jobId"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(jobStatusResponse{
		State:        status.State.String(),
		Progress:     status.Progress,
		ReturnValue:  status.ReturnValue,
		FailedReason: status.FailedReason,
	})
}

// metadataText accepts metadata either as a JSON string or as any other JSON
// value, which is stored as its compact text.
func metadataText(raw json.RawMessage) (*string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("%w: metadata must be a string or JSON value", domain.ErrValidation)
		}
		return &text, nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return nil, fmt.Errorf("%w: metadata must be a string or JSON value", domain.ErrValidation)
	}
	text := compact.String()
	return &text, nil
}

func validationMessage(err error) string {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
