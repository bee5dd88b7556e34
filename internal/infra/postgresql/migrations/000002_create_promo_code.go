package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/promo-engine/internal/repository"
	"gorm.io/gorm"
)

func createPromoCodeTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_promo_code",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PromoCodeModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_promo_code_created_at ON promo_code (created_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PromoCodeModel{})
		},
	}
}
