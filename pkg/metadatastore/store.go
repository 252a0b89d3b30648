package metadatastore

import (
	"errors"

	"github.com/mimir-aip/prognosis-go/pkg/models"
)

// ErrNotFound is wrapped by every lookup that finds no row.
var ErrNotFound = errors.New("not found")

// MetadataStore persists studies, their trial checkpoints, schedules and run
// history.
type MetadataStore interface {
	// Study operations
	SaveStudy(study *models.Study) error
	GetStudy(id string) (*models.Study, error)
	GetStudyByName(name string) (*models.Study, error)
	ListStudies() ([]*models.Study, error)
	DeleteStudy(id string) error

	// Trial operations
	SaveTrial(trial *models.Trial) error
	GetTrial(studyID, key string) (*models.Trial, error)
	ListTrials(studyID string) ([]*models.Trial, error)
	BestTrial(studyID string) (*models.Trial, error)

	// Schedule operations
	SaveSchedule(schedule *models.Schedule) error
	GetSchedule(id string) (*models.Schedule, error)
	ListSchedules() ([]*models.Schedule, error)
	ListSchedulesByStudy(studyID string) ([]*models.Schedule, error)
	DeleteSchedule(id string) error

	// Study task operations
	SaveTask(task *models.StudyTask) error
	GetTask(id string) (*models.StudyTask, error)
	ListTasksByStudy(studyID string) ([]*models.StudyTask, error)

	Close() error
}
