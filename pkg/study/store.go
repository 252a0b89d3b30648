package study

import (
	"fmt"
	"sync"

	"github.com/mimir-aip/prognosis-go/pkg/metadatastore"
	"github.com/mimir-aip/prognosis-go/pkg/models"
)

// Store is the part of the metadata store a study checkpoints into.
// *metadatastore.SQLiteStore satisfies it.
type Store interface {
	GetStudyByName(name string) (*models.Study, error)
	SaveStudy(study *models.Study) error
	GetTrial(studyID, key string) (*models.Trial, error)
	SaveTrial(trial *models.Trial) error
}

// memoryStore keeps checkpoints for the lifetime of the process.
type memoryStore struct {
	mu      sync.Mutex
	studies map[string]*models.Study
	trials  map[string]*models.Trial
}

// NewMemoryStore returns a Store that keeps everything in memory.
func NewMemoryStore() Store {
	return &memoryStore{
		studies: make(map[string]*models.Study),
		trials:  make(map[string]*models.Trial),
	}
}

func (m *memoryStore) GetStudyByName(name string) (*models.Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.studies[name]
	if !ok {
		return nil, fmt.Errorf("study %w: %s", metadatastore.ErrNotFound, name)
	}
	cp := *s
	return &cp, nil
}

func (m *memoryStore) SaveStudy(study *models.Study) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *study
	m.studies[study.Name] = &cp
	return nil
}

func (m *memoryStore) GetTrial(studyID, key string) (*models.Trial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trials[studyID+"/"+key]
	if !ok {
		return nil, fmt.Errorf("trial %w: %s/%s", metadatastore.ErrNotFound, studyID, key)
	}
	cp := *t
	return &cp, nil
}

func (m *memoryStore) SaveTrial(trial *models.Trial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trial
	m.trials[trial.StudyID+"/"+trial.Key] = &cp
	return nil
}
