package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/promo-engine/internal/service"
	"github.com/shopspring/decimal"
)

type ListingService interface {
	ListBatches(ctx context.Context, query service.ListQuery) (*service.BatchListing, error)
	ListPromoCodes(ctx context.Context, query service.ListQuery) (*service.CodeListing, error)
}

type ListingHandler struct {
	service ListingService
}

func NewListingHandler(service ListingService) (*ListingHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("listing service is required")
	}
	return &ListingHandler{service: service}, nil
}

func RegisterListingRoutes(router fiber.Router, service ListingService) error {
	h, err := NewListingHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/batches", h.ListBatches)
	v1.Get("/promo-codes", h.ListPromoCodes)

	return nil
}

type batchItemResponse struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Status         string       `json:"status"`
	Quantity       int          `json:"quantity"`
	Prefix         string       `json:"prefix"`
	Suffix         string       `json:"suffix"`
	CreatedBy      string       `json:"createdBy"`
	CreatedAt      *time.Time   `json:"createdAt"`
	UpdatedAt      *time.Time   `json:"updatedAt"`
	TotalCodes     int          `json:"totalCodes"`
	Redeemed       int          `json:"redeemed"`
	Progress       int          `json:"progress"`
	AmountPerCode  *json.Number `json:"amountPerCode,omitempty"`
	ExpirationDate *time.Time   `json:"expirationDate,omitempty"`
}

type codeItemResponse struct {
	ID        string       `json:"id"`
	Code      string       `json:"code"`
	Status    string       `json:"status"`
	BatchID   string       `json:"batchId"`
	BatchName *string      `json:"batchName"`
	Amount    *json.Number `json:"amount"`
	Currency  *string      `json:"currency"`
	CreatedAt *time.Time   `json:"createdAt"`
	UpdatedAt *time.Time   `json:"updatedAt"`
}

type listingResponse[T any] struct {
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Total    int64            `json:"total"`
	Source   string           `json:"source"`
	Counts   map[string]int64 `json:"counts"`
	Items    []T              `json:"items"`
}

func (h *ListingHandler) ListBatches(c *fiber.Ctx) error {
	listing, err := h.service.ListBatches(c.Context(), parseListQuery(c))
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]batchItemResponse, 0, len(listing.Items))
	for _, item := range listing.Items {
		resp := batchItemResponse{
			ID:             item.ID,
			Name:           item.Name,
			Status:         item.Status,
			Quantity:       item.TotalCodes,
			Prefix:         item.Prefix,
			Suffix:         item.Suffix,
			CreatedBy:      item.CreatedBy,
			CreatedAt:      item.CreatedAt,
			UpdatedAt:      item.UpdatedAt,
			TotalCodes:     item.TotalCodes,
			Redeemed:       item.Redeemed,
			Progress:       item.Progress,
			ExpirationDate: item.ExpirationDate,
		}
		if item.AmountPerCode.Valid {
			resp.AmountPerCode = decimalNumber(&item.AmountPerCode.Decimal)
		}
		items = append(items, resp)
	}

	return c.Status(fiber.StatusOK).JSON(listingResponse[batchItemResponse]{
		Page:     listing.Page,
		PageSize: listing.PageSize,
		Total:    listing.Total,
		Source:   string(listing.Source),
		Counts:   listing.Counts,
		Items:    items,
	})
}

func (h *ListingHandler) ListPromoCodes(c *fiber.Ctx) error {
	listing, err := h.service.ListPromoCodes(c.Context(), parseListQuery(c))
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]codeItemResponse, 0, len(listing.Items))
	for _, item := range listing.Items {
		items = append(items, codeItemResponse{
			ID:        item.ID,
			Code:      item.Code,
			Status:    item.Status.String(),
			BatchID:   item.BatchID,
			BatchName: item.BatchName,
			Amount:    decimalNumber(item.Amount),
			Currency:  item.Currency,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listingResponse[codeItemResponse]{
		Page:     listing.Page,
		PageSize: listing.PageSize,
		Total:    listing.Total,
		Source:   string(listing.Source),
		Counts:   listing.Counts,
		Items:    items,
	})
}

// parseListQuery leaves range clamping to the service; unparseable numbers
// fall back to their defaults.
func parseListQuery(c *fiber.Ctx) service.ListQuery {
	return service.ListQuery{
		Search: c.Query("search"),
		Status: c.Query("status"),
		Page:   c.QueryInt("page", 1),
		Limit:  c.QueryInt("limit", 0),
	}
}

func decimalNumber(d *decimal.Decimal) *json.Number {
	if d == nil {
		return nil
	}
	n := json.Number(d.String())
	return &n
}
