package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/promo-engine/internal/domain"
	"gorm.io/gorm"
)

type PromoCodeRepository interface {
	// CreateChunk inserts codes atomically: either every row lands or none.
	CreateChunk(ctx context.Context, codes []*domain.PromoCode) error
	CountByBatch(ctx context.Context, batchID string) (int64, error)
	GetByCode(ctx context.Context, code string) (*domain.PromoCode, error)
	// RedeemIfStatus flips code to redeemed only when its current status is
	// from. It reports whether a row was updated.
	RedeemIfStatus(ctx context.Context, code string, from string, at time.Time) (bool, error)
	ForEachInBatch(ctx context.Context, batchID string, pageSize int, fn func([]domain.PromoCode) error) error
}

type GormPromoCodeRepo struct {
	db *gorm.DB
}

func NewGormPromoCodeRepo(db *gorm.DB) *GormPromoCodeRepo {
	return &GormPromoCodeRepo{db: db}
}

func (r *GormPromoCodeRepo) CreateChunk(ctx context.Context, codes []*domain.PromoCode) error {
	if len(codes) == 0 {
		return nil
	}

	models := make([]*PromoCodeModel, 0, len(codes))
	for _, c := range codes {
		models = append(models, promoCodeModelFromDomain(c))
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(models, len(models)).Error
	})
	if err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: promo code collision: %v", domain.ErrConflict, err)
		}
		return err
	}
	return nil
}

func (r *GormPromoCodeRepo) CountByBatch(ctx context.Context, batchID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PromoCodeModel{}).
		Where("batch_id = ?", batchID).
		Count(&count).Error
	return count, err
}

func (r *GormPromoCodeRepo) GetByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	var model PromoCodeModel
	err := r.db.WithContext(ctx).First(&model, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return promoCodeModelToDomain(&model), nil
}

func (r *GormPromoCodeRepo) RedeemIfStatus(ctx context.Context, code string, from string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&PromoCodeModel{}).
		Where("code = ? AND status = ?", code, from).
		Updates(map[string]any{
			"status":      domain.CodeStatusRedeemed,
			"redeemed_at": at,
			"updated_at":  at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormPromoCodeRepo) ForEachInBatch(
	ctx context.Context,
	batchID string,
	pageSize int,
	fn func([]domain.PromoCode) error,
) error {
	if pageSize <= 0 {
		pageSize = domain.GenerateChunkSize
	}

	var models []PromoCodeModel
	result := r.db.WithContext(ctx).
		Model(&PromoCodeModel{}).
		Where("batch_id = ?", batchID).
		FindInBatches(&models, pageSize, func(tx *gorm.DB, _ int) error {
			page := make([]domain.PromoCode, 0, len(models))
			for i := range models {
				page = append(page, *promoCodeModelToDomain(&models[i]))
			}
			return fn(page)
		})
	return result.Error
}
