package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/promo-engine/internal/service"
)

type VerifyService interface {
	Check(ctx context.Context, code string) (service.VerifyResult, error)
	Redeem(ctx context.Context, code string) (bool, error)
}

type VerifyHandler struct {
	service VerifyService
}

func NewVerifyHandler(service VerifyService) (*VerifyHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("verify service is required")
	}
	return &VerifyHandler{service: service}, nil
}

// RegisterVerifyRoutes mounts the verify endpoints behind the given
// middleware, typically a per-client rate limit.
func RegisterVerifyRoutes(router fiber.Router, service VerifyService, middleware ...fiber.Handler) error {
	h, err := NewVerifyHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1/verify", middleware...)
	v1.Get("", h.Check)
	v1.Post("", h.Redeem)

	return nil
}

type verifyCheckResponse struct {
	Valid      bool       `json:"valid"`
	Status     string     `json:"status"`
	RedeemedAt *time.Time `json:"redeemedAt"`
	VerifiedAt *time.Time `json:"verifiedAt"`
}

type verifyNotFoundResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

type redeemRequest struct {
	Code string `json:"code"`
}

type redeemResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func (h *VerifyHandler) Check(c *fiber.Ctx) error {
	result, err := h.service.Check(c.Context(), c.Query("code"))
	if err != nil {
		return toHTTPError(err)
	}
	if !result.Found {
		return c.Status(fiber.StatusOK).JSON(verifyNotFoundResponse{Valid: false, Reason: "not_found"})
	}

	return c.Status(fiber.StatusOK).JSON(verifyCheckResponse{
		Valid:      result.Valid,
		Status:     result.Status,
		RedeemedAt: result.RedeemedAt,
		VerifiedAt: result.VerifiedAt,
	})
}

func (h *VerifyHandler) Redeem(c *fiber.Ctx) error {
	var req redeemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ok, err := h.service.Redeem(c.Context(), req.Code)
	if err != nil {
		return toHTTPError(err)
	}
	if !ok {
		return c.Status(fiber.StatusOK).JSON(redeemResponse{OK: false, Reason: "invalid"})
	}
	return c.Status(fiber.StatusOK).JSON(redeemResponse{OK: true})
}
