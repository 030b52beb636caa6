package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/lessongen-backend/internal/domain/lessongen"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(lessongen.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
