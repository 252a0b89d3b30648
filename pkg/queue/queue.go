package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mimir-aip/prognosis-go/pkg/models"
	"github.com/mimir-aip/prognosis-go/pkg/telemetry"
)

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity
	ErrQueueFull = errors.New("queue is full")
	// ErrClosed is returned once the queue has been closed
	ErrClosed = errors.New("queue is closed")
	// ErrAlreadyQueued is returned when the study already has a pending run
	ErrAlreadyQueued = errors.New("study already has a queued run")
	// ErrExecuting is returned when a worker holds a run of the study
	ErrExecuting = errors.New("study is executing")
)

// Queue provides in-memory study task queue operations with priority support
type Queue struct {
	mu        sync.RWMutex
	pq        *PriorityQueue
	tasks     map[string]*models.StudyTask
	queued    map[string]string // study ID -> queued task ID
	executing map[string]string // study ID -> dequeued, unfinished task ID
	capacity  int
	notify    chan struct{}
	closed    chan struct{}
	once      sync.Once
}

// NewQueue creates a new in-memory queue holding at most capacity queued tasks
func NewQueue(capacity int) *Queue {
	pq := make(PriorityQueue, 0)
	heap.Init(&pq)

	return &Queue{
		pq:        &pq,
		tasks:     make(map[string]*models.StudyTask),
		queued:    make(map[string]string),
		executing: make(map[string]string),
		capacity:  capacity,
		notify:    make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

// Enqueue adds a study task to the queue
func (q *Queue) Enqueue(task *models.StudyTask) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && q.pq.Len() >= q.capacity {
		return ErrQueueFull
	}
	if id, ok := q.queued[task.StudyID]; ok {
		return fmt.Errorf("%w: %s (task %s)", ErrAlreadyQueued, task.StudyID, id)
	}
	if id, ok := q.executing[task.StudyID]; ok {
		return fmt.Errorf("%w: %s (task %s)", ErrExecuting, task.StudyID, id)
	}

	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now().UTC()
	}
	task.Status = models.StudyTaskStatusQueued

	heap.Push(q.pq, &PriorityQueueItem{
		TaskID:      task.ID,
		Priority:    task.Priority,
		SubmittedAt: task.SubmittedAt,
	})
	q.tasks[task.ID] = task
	q.queued[task.StudyID] = task.ID
	telemetry.QueueDepth.Set(float64(q.pq.Len()))

	q.signal()
	return nil
}

// signal wakes one waiting Next call
func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue retrieves the next study task, or nil when the queue is empty.
// The study counts as executing until its task reaches a terminal status.
func (q *Queue) Dequeue() (*models.StudyTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pq.Len() == 0 {
		return nil, nil // No tasks available
	}

	// Pop highest priority task
	item := heap.Pop(q.pq).(*PriorityQueueItem)
	telemetry.QueueDepth.Set(float64(q.pq.Len()))

	task, ok := q.tasks[item.TaskID]
	if !ok {
		return nil, fmt.Errorf("study task data not found: %s", item.TaskID)
	}
	delete(q.queued, task.StudyID)
	q.executing[task.StudyID] = task.ID

	now := time.Now().UTC()
	task.Status = models.StudyTaskStatusExecuting
	task.StartedAt = &now

	// Another waiter may take the remaining tasks
	if q.pq.Len() > 0 {
		q.signal()
	}
	return task, nil
}

// Next blocks until a task is available, ctx is done or the queue is closed
func (q *Queue) Next(ctx context.Context) (*models.StudyTask, error) {
	for {
		task, err := q.Dequeue()
		if err != nil || task != nil {
			return task, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.closed:
			return nil, ErrClosed
		case <-q.notify:
		}
	}
}

// GetTask retrieves a study task by ID
func (q *Queue) GetTask(taskID string) (*models.StudyTask, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("study task not found: %s", taskID)
	}

	return task, nil
}

// UpdateTaskStatus updates the status of a study task. Terminal tasks are
// released from the queue's bookkeeping.
func (q *Queue) UpdateTaskStatus(taskID string, status models.StudyTaskStatus, errorMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return fmt.Errorf("study task not found: %s", taskID)
	}

	task.Status = status
	if errorMsg != "" {
		task.ErrorMessage = errorMsg
	}

	now := time.Now().UTC()
	switch status {
	case models.StudyTaskStatusExecuting:
		task.StartedAt = &now
	case models.StudyTaskStatusCompleted, models.StudyTaskStatusFailed, models.StudyTaskStatusCancelled:
		task.CompletedAt = &now
		delete(q.tasks, taskID)
		if q.executing[task.StudyID] == taskID {
			delete(q.executing, task.StudyID)
		}
	}

	return nil
}

// Remove drops a queued task of a study and marks it cancelled. It reports
// whether a queued task was found.
func (q *Queue) Remove(studyID string) (*models.StudyTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	taskID, ok := q.queued[studyID]
	if !ok {
		return nil, false
	}
	delete(q.queued, studyID)

	for i, item := range *q.pq {
		if item.TaskID == taskID {
			heap.Remove(q.pq, i)
			break
		}
	}
	telemetry.QueueDepth.Set(float64(q.pq.Len()))

	task := q.tasks[taskID]
	delete(q.tasks, taskID)
	now := time.Now().UTC()
	task.Status = models.StudyTaskStatusCancelled
	task.CompletedAt = &now
	return task, true
}

// IsQueued reports whether a study has a run waiting for a worker
func (q *Queue) IsQueued(studyID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.queued[studyID]
	return ok
}

// IsExecuting reports whether a worker has taken a run of the study that
// has not finished yet
func (q *Queue) IsExecuting(studyID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.executing[studyID]
	return ok
}

// IsActive reports whether a study is queued or executing
func (q *Queue) IsActive(studyID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, queued := q.queued[studyID]
	_, executing := q.executing[studyID]
	return queued || executing
}

// QueueLength returns the current length of the study task queue
func (q *Queue) QueueLength() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.pq.Len()
}

// Close stops the queue and wakes every blocked Next call
func (q *Queue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}

// PriorityQueueItem represents an item in the priority queue
type PriorityQueueItem struct {
	TaskID      string
	Priority    int // Higher value = served first
	SubmittedAt time.Time
	index       int // Index in heap
}

// PriorityQueue implements heap.Interface
type PriorityQueue []*PriorityQueueItem

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	// Same priority: oldest first
	return pq[i].SubmittedAt.Before(pq[j].SubmittedAt)
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*PriorityQueueItem)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}
