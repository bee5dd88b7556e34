package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/promo-engine/internal/domain"
	"github.com/kursadbilgin/promo-engine/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListQuery is the common search/filter/pagination input of both listings.
type ListQuery struct {
	Search string
	Status string
	Page   int
	Limit  int
}

func (q ListQuery) normalize() ListQuery {
	q.Search = strings.TrimSpace(q.Search)
	q.Status = strings.TrimSpace(q.Status)
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = defaultPageSize
	}
	q.Limit = min(max(q.Limit, 1), maxPageSize)
	return q
}

func (q ListQuery) page() repository.Page {
	return repository.Page{Offset: (q.Page - 1) * q.Limit, Limit: q.Limit}
}

type BatchItem struct {
	domain.BatchRow
	TotalCodes int
	Redeemed   int
	Progress   int
}

type BatchListing struct {
	Page     int
	PageSize int
	Total    int64
	Source   domain.Source
	Counts   map[string]int64
	Items    []BatchItem
}

type CodeItem struct {
	ID        string
	Code      string
	Status    domain.CodeStatus
	BatchID   string
	BatchName *string
	Amount    *decimal.Decimal
	Currency  *string
	CreatedAt *time.Time
	UpdatedAt *time.Time
}

type CodeListing struct {
	Page     int
	PageSize int
	Total    int64
	Source   domain.Source
	Counts   map[string]int64
	Items    []CodeItem
}

// ChooseBatchSource picks the table family that serves a whole batch listing
// request. Rows from both families are never mixed.
func ChooseBatchSource(modernCount, legacyCount int64) domain.Source {
	if legacyCount > 0 && modernCount == 0 {
		return domain.SourceLegacy
	}
	return domain.SourceModern
}

type ListingService struct {
	batches repository.BatchListingRepository
	codes   repository.CodeListingRepository
	logger  *zap.Logger
}

func NewListingService(
	batches repository.BatchListingRepository,
	codes repository.CodeListingRepository,
	logger *zap.Logger,
) (*ListingService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch listing repository is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("code listing repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ListingService{batches: batches, codes: codes, logger: logger}, nil
}

func (s *ListingService) ListBatches(ctx context.Context, query ListQuery) (*BatchListing, error) {
	query = query.normalize()
	filter := repository.BatchFilter{Search: query.Search, Status: query.Status}

	modernCount, err := s.batches.CountBatches(ctx, domain.SourceModern, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count batches: %w", err)
	}
	legacyCount, err := s.batches.CountBatches(ctx, domain.SourceLegacy, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count legacy batches: %w", err)
	}

	source := ChooseBatchSource(modernCount, legacyCount)
	total := modernCount
	if source == domain.SourceLegacy {
		total = legacyCount
	}

	byStatus, err := s.batches.CountBatchesByStatus(ctx, source, query.Search)
	if err != nil {
		return nil, fmt.Errorf("failed to count batches by status: %w", err)
	}

	rows, err := s.batches.ListBatches(ctx, source, filter, query.page())
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	items, err := s.batchItems(ctx, source, rows)
	if err != nil {
		return nil, err
	}

	return &BatchListing{
		Page:     query.Page,
		PageSize: query.Limit,
		Total:    total,
		Source:   source,
		Counts:   batchCounts(byStatus),
		Items:    items,
	}, nil
}

func (s *ListingService) batchItems(ctx context.Context, source domain.Source, rows []domain.BatchRow) ([]BatchItem, error) {
	items := make([]BatchItem, 0, len(rows))

	if source == domain.SourceLegacy {
		for _, row := range rows {
			total := max(row.Quantity, 0)
			redeemed := 0
			if row.RedeemedCount != nil {
				redeemed = max(*row.RedeemedCount, 0)
			}
			row.Prefix, row.Suffix = "", ""
			items = append(items, BatchItem{
				BatchRow:   row,
				TotalCodes: total,
				Redeemed:   redeemed,
				Progress:   Progress(redeemed, total),
			})
		}
		return items, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	redeemedByBatch, err := s.batches.CountRedeemedByBatch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to count redeemed codes: %w", err)
	}

	for _, row := range rows {
		total := max(row.Quantity, 0)
		redeemed := int(redeemedByBatch[row.ID])
		items = append(items, BatchItem{
			BatchRow:   row,
			TotalCodes: total,
			Redeemed:   redeemed,
			Progress:   Progress(redeemed, total),
		})
	}
	return items, nil
}

func batchCounts(byStatus map[string]int64) map[string]int64 {
	var all int64
	for _, n := range byStatus {
		all += n
	}
	return map[string]int64{
		"all":       all,
		"pending":   byStatus[domain.BatchStatusPending.String()],
		"completed": byStatus[domain.BatchStatusCompleted.String()],
		"failed":    byStatus[domain.BatchStatusFailed.String()],
		"archived":  byStatus[domain.BatchStatusArchived.String()],
		"expired":   0,
		"active":    byStatus[domain.BatchStatusCompleted.String()],
		"blocked":   byStatus[domain.BatchStatusArchived.String()],
	}
}

// ListPromoCodes lists modern codes and falls back to the legacy table when
// the modern one is empty. The status filter accepts either vocabulary and is
// folded to an internal bucket first. "expired" has no stored equivalent, so
// filtering on it matches nothing on modern rows and only the literal label
// on legacy rows; it is not ignored.
func (s *ListingService) ListPromoCodes(ctx context.Context, query ListQuery) (*CodeListing, error) {
	query = query.normalize()
	bucket := domain.MapStatusFilter(query.Status)
	filter := repository.CodeFilter{Search: query.Search, Status: bucket}

	total, err := s.codes.CountCodes(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count promo codes: %w", err)
	}
	byInternal, err := s.codes.CountCodesByStatus(ctx, query.Search)
	if err != nil {
		return nil, fmt.Errorf("failed to count promo codes by status: %w", err)
	}
	all := sumCounts(byInternal)

	if total == 0 && all == 0 {
		listing, err := s.listLegacyCodes(ctx, query, bucket)
		if err != nil {
			return nil, err
		}
		if listing != nil {
			return listing, nil
		}
	}

	rows, err := s.codes.ListCodes(ctx, filter, query.page())
	if err != nil {
		return nil, fmt.Errorf("failed to list promo codes: %w", err)
	}

	return &CodeListing{
		Page:     query.Page,
		PageSize: query.Limit,
		Total:    total,
		Source:   domain.SourceModern,
		Counts:   codeCounts(all, byInternal),
		Items:    s.codeItems(rows),
	}, nil
}

// listLegacyCodes serves the request from the legacy table. It returns nil
// when that table does not exist.
func (s *ListingService) listLegacyCodes(ctx context.Context, query ListQuery, bucket domain.CodeStatus) (*CodeListing, error) {
	schema, err := s.codes.InspectLegacyCodeSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect legacy promo codes: %w", err)
	}
	if !schema.Exists() {
		return nil, nil
	}

	filter := repository.LegacyCodeFilter{Search: query.Search}
	if bucket != "" {
		filter.Statuses = domain.LegacyLabelsFor(bucket)
	}

	total, err := s.codes.CountLegacyCodes(ctx, schema, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count legacy promo codes: %w", err)
	}
	byLabel, err := s.codes.CountLegacyCodesByStatus(ctx, schema, query.Search)
	if err != nil {
		return nil, fmt.Errorf("failed to count legacy promo codes by status: %w", err)
	}
	byInternal := make(map[string]int64, len(byLabel))
	for label, n := range byLabel {
		byInternal[domain.FoldLegacyStatus(label).String()] += n
	}

	rows, err := s.codes.ListLegacyCodes(ctx, schema, filter, query.page())
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy promo codes: %w", err)
	}

	return &CodeListing{
		Page:     query.Page,
		PageSize: query.Limit,
		Total:    total,
		Source:   domain.SourceLegacy,
		Counts:   codeCounts(sumCounts(byLabel), byInternal),
		Items:    s.codeItems(rows),
	}, nil
}

func (s *ListingService) codeItems(rows []domain.CodeRow) []CodeItem {
	items := make([]CodeItem, 0, len(rows))
	for _, row := range rows {
		amount, currency := ParseCodeMetadata(row.Metadata)
		items = append(items, CodeItem{
			ID:        row.ID,
			Code:      row.Code,
			Status:    domain.FoldLegacyStatus(row.Status),
			BatchID:   row.BatchID,
			BatchName: row.BatchName,
			Amount:    amount,
			Currency:  currency,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
	}
	return items
}

func codeCounts(all int64, byInternal map[string]int64) map[string]int64 {
	return map[string]int64{
		"all":      all,
		"active":   byInternal[domain.CodeStatusNew.String()],
		"used":     byInternal[domain.CodeStatusIssued.String()],
		"redeemed": byInternal[domain.CodeStatusRedeemed.String()],
		"expired":  0,
		"blocked":  byInternal[domain.CodeStatusInvalid.String()],
		"new":      byInternal[domain.CodeStatusNew.String()],
		"issued":   byInternal[domain.CodeStatusIssued.String()],
		"invalid":  byInternal[domain.CodeStatusInvalid.String()],
	}
}

func sumCounts(counts map[string]int64) int64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	return total
}

type codeMetadata struct {
	AmountPerCode json.RawMessage `json:"amountPerCode"`
	Currency      any             `json:"currency"`
}

// ParseCodeMetadata extracts amountPerCode and currency from a code's
// metadata blob. Anything unparseable is reported as absent.
func ParseCodeMetadata(raw *string) (*decimal.Decimal, *string) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}

	var meta codeMetadata
	if err := json.Unmarshal([]byte(*raw), &meta); err != nil {
		return nil, nil
	}

	var amount *decimal.Decimal
	if len(meta.AmountPerCode) > 0 && string(meta.AmountPerCode) != "null" {
		var text string
		if err := json.Unmarshal(meta.AmountPerCode, &text); err != nil {
			text = string(meta.AmountPerCode)
		}
		if d, err := decimal.NewFromString(strings.TrimSpace(text)); err == nil {
			amount = &d
		}
	}

	var currency *string
	switch v := meta.Currency.(type) {
	case string:
		if v != "" {
			currency = &v
		}
	case float64, bool:
		c := fmt.Sprint(v)
		currency = &c
	}

	return amount, currency
}
