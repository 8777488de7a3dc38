package cli

import (
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"

	"github.com/distantorigin/craftlauncher/internal/download"
)

// progressView renders one byte tracker per update plan
type progressView struct {
	pw progress.Writer

	mu       sync.Mutex
	trackers map[string]*progress.Tracker
	stopped  bool
}

func newProgressView(out io.Writer, enabled bool) *progressView {
	v := &progressView{trackers: make(map[string]*progress.Tracker)}
	if !enabled {
		return v
	}

	pw := progress.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(30)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetStyle(progress.StyleDefault)
	go pw.Render()
	// Stop is a no-op until rendering has begun
	for !pw.IsRenderInProgress() {
		time.Sleep(time.Millisecond)
	}

	v.pw = pw
	return v
}

func (v *progressView) update(instanceID string, e download.Event) {
	if v.pw == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return
	}

	t, ok := v.trackers[e.PlanID]
	if !ok {
		t = &progress.Tracker{
			Message: "Updating " + instanceID,
			Total:   e.BytesTotal,
			Units:   progress.UnitsBytes,
		}
		v.pw.AppendTracker(t)
		v.trackers[e.PlanID] = t
	}
	t.SetValue(e.BytesCompleted)
	if e.TaskState == download.TaskFailed {
		t.MarkAsErrored()
	} else if e.BytesCompleted >= e.BytesTotal {
		t.MarkAsDone()
	}
}

// stop finishes rendering. Trackers that did not complete are marked as
// errored.
func (v *progressView) stop() {
	if v.pw == nil {
		return
	}
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	for _, t := range v.trackers {
		if !t.IsDone() {
			t.MarkAsErrored()
		}
	}
	v.mu.Unlock()

	v.pw.Stop()
	for v.pw.IsRenderInProgress() {
		time.Sleep(10 * time.Millisecond)
	}
}
