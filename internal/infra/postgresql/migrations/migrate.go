package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Migrate brings the modern tables up to date. Legacy tables are owned by the
// previous system and are never created or altered here.
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createBatchTable(),
		createPromoCodeTable(),
	})

	return m.Migrate()
}
