package repository

import (
	"time"

	"github.com/kursadbilgin/promo-engine/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	batchTable           = "batch"
	promoCodeTable       = "promo_code"
	legacyBatchTable     = "batches"
	legacyPromoCodeTable = "promo_codes"
)

// BatchModel is the persistence model for the modern batch table.
type BatchModel struct {
	ID          string             `gorm:"type:uuid;primaryKey"`
	Name        string             `gorm:"type:varchar(255);not null;uniqueIndex:idx_batch_name"`
	Description *string            `gorm:"type:text"`
	CreatedBy   string             `gorm:"type:varchar(255);not null"`
	Status      domain.BatchStatus `gorm:"type:varchar(20);not null;default:'pending'"`
	CodeLength  int                `gorm:"not null"`
	Quantity    int                `gorm:"not null"`
	Prefix      *string            `gorm:"type:varchar(64)"`
	Suffix      *string            `gorm:"type:varchar(64)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (BatchModel) TableName() string {
	return batchTable
}

// PromoCodeModel is the persistence model for the modern promo_code table.
type PromoCodeModel struct {
	ID         string            `gorm:"type:uuid;primaryKey"`
	Code       string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_promo_code_code"`
	BatchID    string            `gorm:"type:uuid;not null;index:idx_promo_code_batch_status,priority:1"`
	Status     domain.CodeStatus `gorm:"type:varchar(20);not null;default:'new';index:idx_promo_code_batch_status,priority:2"`
	Metadata   *string           `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	RedeemedAt *time.Time
	VerifiedAt *time.Time

	Batch *BatchModel `gorm:"foreignKey:BatchID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (PromoCodeModel) TableName() string {
	return promoCodeTable
}

// batchListRow is the scan target shared by the modern and legacy batch projections.
type batchListRow struct {
	ID             string              `gorm:"column:id"`
	Name           string              `gorm:"column:name"`
	Status         string              `gorm:"column:status"`
	Quantity       int                 `gorm:"column:quantity"`
	Prefix         string              `gorm:"column:prefix"`
	Suffix         string              `gorm:"column:suffix"`
	CreatedBy      string              `gorm:"column:created_by"`
	CreatedAt      *time.Time          `gorm:"column:created_at"`
	UpdatedAt      *time.Time          `gorm:"column:updated_at"`
	RedeemedCount  *int                `gorm:"column:redeemed_count"`
	AmountPerCode  decimal.NullDecimal `gorm:"column:amount_per_code"`
	ExpirationDate *time.Time          `gorm:"column:expiration_date"`
}

// codeListRow is the scan target shared by the modern and legacy code projections.
type codeListRow struct {
	ID        string     `gorm:"column:id"`
	Code      string     `gorm:"column:code"`
	Status    string     `gorm:"column:status"`
	BatchID   string     `gorm:"column:batch_id"`
	BatchName *string    `gorm:"column:batch_name"`
	Metadata  *string    `gorm:"column:metadata"`
	CreatedAt *time.Time `gorm:"column:created_at"`
	UpdatedAt *time.Time `gorm:"column:updated_at"`
}

type statusCount struct {
	Status string `gorm:"column:status"`
	Count  int64  `gorm:"column:count"`
}

type batchCount struct {
	BatchID string `gorm:"column:batch_id"`
	Count   int64  `gorm:"column:count"`
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		CreatedBy:   b.CreatedBy,
		Status:      b.Status,
		CodeLength:  b.CodeLength,
		Quantity:    b.Quantity,
		Prefix:      b.Prefix,
		Suffix:      b.Suffix,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		CreatedBy:   m.CreatedBy,
		Status:      m.Status,
		CodeLength:  m.CodeLength,
		Quantity:    m.Quantity,
		Prefix:      m.Prefix,
		Suffix:      m.Suffix,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func promoCodeModelFromDomain(c *domain.PromoCode) *PromoCodeModel {
	if c == nil {
		return nil
	}

	return &PromoCodeModel{
		ID:         c.ID,
		Code:       c.Code,
		BatchID:    c.BatchID,
		Status:     c.Status,
		Metadata:   c.Metadata,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
		RedeemedAt: c.RedeemedAt,
		VerifiedAt: c.VerifiedAt,
	}
}

func promoCodeModelToDomain(m *PromoCodeModel) *domain.PromoCode {
	if m == nil {
		return nil
	}

	return &domain.PromoCode{
		ID:         m.ID,
		Code:       m.Code,
		BatchID:    m.BatchID,
		Status:     m.Status,
		Metadata:   m.Metadata,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		RedeemedAt: m.RedeemedAt,
		VerifiedAt: m.VerifiedAt,
	}
}

func batchRowToDomain(r batchListRow) domain.BatchRow {
	return domain.BatchRow{
		ID:             r.ID,
		Name:           r.Name,
		Status:         r.Status,
		Quantity:       r.Quantity,
		Prefix:         r.Prefix,
		Suffix:         r.Suffix,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		RedeemedCount:  r.RedeemedCount,
		AmountPerCode:  r.AmountPerCode,
		ExpirationDate: r.ExpirationDate,
	}
}

func codeRowToDomain(r codeListRow) domain.CodeRow {
	return domain.CodeRow{
		ID:        r.ID,
		Code:      r.Code,
		Status:    r.Status,
		BatchID:   r.BatchID,
		BatchName: r.BatchName,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
