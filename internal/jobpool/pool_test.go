package jobpool

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// stubJob is a minimal Job whose status is driven by the test.
type stubJob struct {
	id string

	mu     sync.Mutex
	status Status
	killed bool
}

func newStubJob(id string) *stubJob { return &stubJob{id: id} }

func (j *stubJob) ID() string                 { return j.id }
func (j *stubJob) Name() string               { return "job-" + j.id }
func (j *stubJob) Directory() string          { return "/jobs/" + j.id }
func (j *stubJob) StartTime() time.Time       { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
func (j *stubJob) RunningTime() time.Duration { return 1500 * time.Millisecond }
func (j *stubJob) OnStatusChanged(func(Job, Status)) func() {
	return func() {}
}

func (j *stubJob) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *stubJob) setStatus(s Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
}

func (j *stubJob) Kill() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.killed = true
	j.status = Killed
}

func TestStatus_Transitions(t *testing.T) {
	t.Parallel()

	assert.True(t, Waiting.CanTransition(Running))
	assert.True(t, Waiting.CanTransition(Killed))
	assert.False(t, Waiting.CanTransition(Complete))
	assert.True(t, Running.CanTransition(Failed))
	assert.False(t, Running.CanTransition(Waiting))
	for _, terminal := range []Status{Complete, Failed, Killed} {
		assert.True(t, terminal.Terminal())
		assert.False(t, terminal.CanTransition(Running))
	}
	assert.Equal(t, "Killed", Killed.String())
}

func TestPool_AddRemoveNotifications(t *testing.T) {
	t.Parallel()

	p := New()
	var events []string
	unsubAdded := p.OnJobAdded(func(j Job) { events = append(events, "added:"+j.ID()) })
	p.OnJobRemoved(func(j Job) { events = append(events, "removed:"+j.ID()) })

	a, b := newStubJob("a"), newStubJob("b")
	p.Add(a)
	p.Add(b)
	p.Add(a)

	assert.Equal(t, []Job{a, b}, p.Jobs())
	got, ok := p.Get("b")
	require.True(t, ok)
	assert.Same(t, b, got)
	_, ok = p.Get("zzz")
	assert.False(t, ok)

	assert.True(t, p.Remove(a))
	assert.False(t, p.Remove(a))

	unsubAdded()
	p.Add(newStubJob("c"))

	assert.Equal(t, []string{"added:a", "added:b", "removed:a"}, events)
	assert.Len(t, p.Jobs(), 2)
}

func TestPool_ConcurrentAdds(t *testing.T) {
	t.Parallel()

	p := New()
	var mu sync.Mutex
	count := 0
	p.OnJobAdded(func(Job) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Add(newStubJob(fmt.Sprint(i)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, p.Jobs(), 50)
	assert.Equal(t, 50, count)
}

func TestPool_WaitForAll(t *testing.T) {
	t.Parallel()

	p := New()
	job := newStubJob("a")
	job.setStatus(Running)
	p.Add(job)

	go func() {
		time.Sleep(30 * time.Millisecond)
		job.setStatus(Complete)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.WaitForAll(ctx, 5*time.Millisecond))
	assert.Equal(t, Complete, job.Status())
}

func TestPool_WaitForAllHonoursContext(t *testing.T) {
	t.Parallel()

	p := New()
	job := newStubJob("a")
	job.setStatus(Running)
	p.Add(job)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.WaitForAll(ctx, 5*time.Millisecond), context.DeadlineExceeded)
}

func TestPool_KillAllSkipsFinishedJobs(t *testing.T) {
	t.Parallel()

	p := New()
	running, done := newStubJob("running"), newStubJob("done")
	running.setStatus(Running)
	done.setStatus(Complete)
	p.Add(running)
	p.Add(done)

	p.KillAll()

	assert.True(t, running.killed)
	assert.False(t, done.killed)
	assert.Equal(t, Complete, done.Status())
}

func TestDefault_IsSingleton(t *testing.T) {
	t.Parallel()

	assert.Same(t, Default(), Default())
}

func TestWriteReport(t *testing.T) {
	t.Parallel()

	job := newStubJob("000003")
	job.setStatus(Failed)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, []Job{job}))

	var decoded struct {
		Jobs []map[string]string `yaml:"jobs"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Jobs, 1)
	assert.Equal(t, map[string]string{
		"id":           "000003",
		"name":         "job-000003",
		"status":       "Failed",
		"directory":    "/jobs/000003",
		"start_time":   "2024-01-02T03:04:05Z",
		"running_time": "1.5s",
	}, decoded.Jobs[0])
}
