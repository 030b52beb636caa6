package app

import (
	"gorm.io/gorm"

	repos "github.com/yungbote/lessongen-backend/internal/data/repos/lessongen"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

type Repos struct {
	Plan     repos.PlanRepo
	Lesson   repos.LessonRepo
	Run      repos.RunRepo
	Subtask  repos.SubtaskRepo
	RunEvent repos.RunEventRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Plan:     repos.NewPlanRepo(db, log),
		Lesson:   repos.NewLessonRepo(db, log),
		Run:      repos.NewRunRepo(db, log),
		Subtask:  repos.NewSubtaskRepo(db, log),
		RunEvent: repos.NewRunEventRepo(db, log),
	}
}
