package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kursadbilgin/promo-engine/internal/domain"
	"github.com/kursadbilgin/promo-engine/internal/repository"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	exportSheet    = "Codes"
	exportPageSize = 1000
)

var exportHeader = []any{"Code", "Status", "Created At", "Redeemed At"}

// ExportService streams the codes of a modern batch into an xlsx workbook.
type ExportService struct {
	batches repository.BatchRepository
	codes   repository.PromoCodeRepository
	logger  *zap.Logger
}

func NewExportService(
	batches repository.BatchRepository,
	codes repository.PromoCodeRepository,
	logger *zap.Logger,
) (*ExportService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("promo code repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{batches: batches, codes: codes, logger: logger}, nil
}

// Lookup returns the batch to export so callers can name the file before
// streaming starts.
func (s *ExportService) Lookup(ctx context.Context, batchID string) (*domain.Batch, error) {
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}
	return s.batches.GetByID(ctx, batchID)
}

func (s *ExportService) ExportBatch(ctx context.Context, batchID string, w io.Writer) (int, error) {
	batch, err := s.Lookup(ctx, batchID)
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			s.logger.Warn("failed to close workbook", zap.Error(closeErr))
		}
	}()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return 0, fmt.Errorf("failed to name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return 0, fmt.Errorf("failed to open stream writer: %w", err)
	}
	if err := sw.SetRow("A1", exportHeader); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	row := 1
	err = s.codes.ForEachInBatch(ctx, batch.ID, exportPageSize, func(page []domain.PromoCode) error {
		for _, code := range page {
			row++
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return err
			}
			if err := sw.SetRow(cell, exportRow(code)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to export codes: %w", err)
	}

	if err := sw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush workbook: %w", err)
	}
	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("failed to write workbook: %w", err)
	}

	exported := row - 1
	s.logger.Info("batch exported",
		zap.String("batchId", batch.ID),
		zap.Int("codes", exported),
	)
	return exported, nil
}

func exportRow(code domain.PromoCode) []any {
	redeemedAt := ""
	if code.RedeemedAt != nil {
		redeemedAt = code.RedeemedAt.UTC().Format(time.RFC3339)
	}
	return []any{
		code.Code,
		code.Status.String(),
		code.CreatedAt.UTC().Format(time.RFC3339),
		redeemedAt,
	}
}
