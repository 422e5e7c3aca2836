package jobfeed

import (
	"time"

	"github.com/vk/taskdispatch/internal/jobpool"
)

// Event names emitted on the socket.
const (
	EventJobAdded   = "job:added"
	EventJobRemoved = "job:removed"
	EventJobStatus  = "job:status"
)

// JobPayload is the JSON body sent with every event.
type JobPayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Directory   string  `json:"directory"`
	StartTime   string  `json:"start_time"`
	RunningTime float64 `json:"running_time"`
}

// NewPayload snapshots job. The running time is in seconds.
func NewPayload(job jobpool.Job) JobPayload {
	return JobPayload{
		ID:          job.ID(),
		Name:        job.Name(),
		Status:      job.Status().String(),
		Directory:   job.Directory(),
		StartTime:   job.StartTime().UTC().Format(time.RFC3339),
		RunningTime: job.RunningTime().Round(time.Millisecond).Seconds(),
	}
}
