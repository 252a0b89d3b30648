package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mimir-aip/prognosis-go/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func task(id, study string, priority int, at time.Time) *models.StudyTask {
	return &models.StudyTask{ID: id, StudyID: study, Priority: priority, SubmittedAt: at}
}

// TestEnqueueDequeue tests basic queue operations
func TestEnqueueDequeue(t *testing.T) {
	q := NewQueue(10)
	defer q.Close()

	require.NoError(t, q.Enqueue(task("t1", "s1", 0, time.Time{})))
	assert.Equal(t, 1, q.QueueLength())
	assert.True(t, q.IsQueued("s1"))

	got, err := q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, models.StudyTaskStatusExecuting, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.False(t, q.IsQueued("s1"))

	empty, err := q.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestPriorityOrder(t *testing.T) {
	q := NewQueue(10)
	defer q.Close()

	base := time.Now()
	require.NoError(t, q.Enqueue(task("old-low", "s1", 0, base)))
	require.NoError(t, q.Enqueue(task("new-low", "s2", 0, base.Add(time.Second))))
	require.NoError(t, q.Enqueue(task("high", "s3", 5, base.Add(2*time.Second))))

	var order []string
	for q.QueueLength() > 0 {
		got, err := q.Dequeue()
		require.NoError(t, err)
		order = append(order, got.ID)
	}
	assert.Equal(t, []string{"high", "old-low", "new-low"}, order)
}

func TestEnqueueLimits(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	require.NoError(t, q.Enqueue(task("t1", "s1", 0, time.Time{})))
	assert.ErrorIs(t, q.Enqueue(task("t2", "s2", 0, time.Time{})), ErrQueueFull)

	q2 := NewQueue(5)
	defer q2.Close()
	require.NoError(t, q2.Enqueue(task("t1", "s1", 0, time.Time{})))
	assert.ErrorIs(t, q2.Enqueue(task("t2", "s1", 0, time.Time{})), ErrAlreadyQueued)
}

func TestUpdateTaskStatus(t *testing.T) {
	q := NewQueue(10)
	defer q.Close()

	require.NoError(t, q.Enqueue(task("t1", "s1", 0, time.Time{})))
	_, err := q.Dequeue()
	require.NoError(t, err)

	require.NoError(t, q.UpdateTaskStatus("t1", models.StudyTaskStatusFailed, "boom"))
	_, err = q.GetTask("t1")
	assert.Error(t, err, "terminal tasks are released")
	assert.Error(t, q.UpdateTaskStatus("t1", models.StudyTaskStatusCompleted, ""))
}

func TestExecutingStudyCannotBeEnqueued(t *testing.T) {
	q := NewQueue(10)
	defer q.Close()

	require.NoError(t, q.Enqueue(task("t1", "s1", 0, time.Time{})))
	_, err := q.Dequeue()
	require.NoError(t, err)

	assert.False(t, q.IsQueued("s1"))
	assert.True(t, q.IsExecuting("s1"))
	assert.True(t, q.IsActive("s1"))
	assert.ErrorIs(t, q.Enqueue(task("t2", "s1", 0, time.Time{})), ErrExecuting)

	require.NoError(t, q.UpdateTaskStatus("t1", models.StudyTaskStatusExecuting, ""))
	assert.True(t, q.IsExecuting("s1"), "only terminal statuses release the study")

	require.NoError(t, q.UpdateTaskStatus("t1", models.StudyTaskStatusCompleted, ""))
	assert.False(t, q.IsActive("s1"))
	require.NoError(t, q.Enqueue(task("t2", "s1", 0, time.Time{})))
}

func TestRemove(t *testing.T) {
	q := NewQueue(10)
	defer q.Close()

	require.NoError(t, q.Enqueue(task("t1", "s1", 0, time.Time{})))
	require.NoError(t, q.Enqueue(task("t2", "s2", 0, time.Time{})))

	removed, ok := q.Remove("s1")
	require.True(t, ok)
	assert.Equal(t, models.StudyTaskStatusCancelled, removed.Status)
	assert.Equal(t, 1, q.QueueLength())

	_, ok = q.Remove("s1")
	assert.False(t, ok)

	got, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "t2", got.ID)
}

func TestNextBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue(10)
	defer q.Close()

	result := make(chan *models.StudyTask, 1)
	go func() {
		got, err := q.Next(context.Background())
		if err == nil {
			result <- got
		}
		close(result)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(task("t1", "s1", 0, time.Time{})))

	select {
	case got := <-result:
		require.NotNil(t, got)
		assert.Equal(t, "t1", got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Enqueue")
	}
}

func TestNextContextAndClose(t *testing.T) {
	q := NewQueue(10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		_, err := q.Next(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Close())
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.ErrorIs(t, q.Enqueue(task("t1", "s1", 0, time.Time{})), ErrClosed)
}

func TestConcurrentWorkers(t *testing.T) {
	q := NewQueue(100)
	defer q.Close()

	const n = 20
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	var taken sync.WaitGroup
	taken.Add(n)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := q.Next(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[got.ID] = true
				mu.Unlock()
				taken.Done()
			}
		}()
	}

	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(task(fmt.Sprintf("t%d", i), fmt.Sprintf("s%d", i), i%3, time.Time{})))
	}
	taken.Wait()
	cancel()
	wg.Wait()
	assert.Len(t, seen, n)
}
