package download

import (
	"sync"

	"github.com/distantorigin/craftlauncher/internal/resolver"
)

// TaskState is the lifecycle position of a single task
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskFetching  TaskState = "fetching"
	TaskVerifying TaskState = "verifying"
	TaskRetrying  TaskState = "retrying"
	TaskDone      TaskState = "done"
	TaskFailed    TaskState = "failed"
)

// Event reports aggregate plan progress along with the task that moved
type Event struct {
	PlanID         string    `json:"plan_id"`
	BytesCompleted int64     `json:"bytes_completed"`
	BytesTotal     int64     `json:"bytes_total"`
	TaskPath       string    `json:"task_path"`
	TaskState      TaskState `json:"task_state"`
}

// ProgressFunc receives events one at a time, never concurrently
type ProgressFunc func(Event)

// tracker keeps a high-water mark per task so the aggregate never goes
// backwards when a task restarts from zero. verified only counts tasks
// that reached TaskDone.
type tracker struct {
	mu       sync.Mutex
	planID   string
	total    int64
	done     int64
	verified int64
	marks    map[string]int64
	emit     ProgressFunc
}

func newTracker(planID string, total int64, emit ProgressFunc) *tracker {
	return &tracker{
		planID: planID,
		total:  total,
		marks:  make(map[string]int64),
		emit:   emit,
	}
}

// advance records that n bytes of the task are present
func (t *tracker) advance(task resolver.Task, n int64, state TaskState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n > task.Size {
		n = task.Size
	}
	if n > t.marks[task.Path] {
		t.done += n - t.marks[task.Path]
		t.marks[task.Path] = n
	}
	if state == TaskDone {
		t.verified += task.Size
	}
	t.send(task.Path, state)
}

func (t *tracker) state(task resolver.Task, state TaskState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.send(task.Path, state)
}

func (t *tracker) send(path string, state TaskState) {
	if t.emit == nil {
		return
	}
	t.emit(Event{
		PlanID:         t.planID,
		BytesCompleted: t.done,
		BytesTotal:     t.total,
		TaskPath:       path,
		TaskState:      state,
	})
}

func (t *tracker) completed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.verified
}
