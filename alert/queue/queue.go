package queue

import (
	"time"

	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/models"

	"github.com/toolkits/pkg/container/list"
)

const (
	KindCreated    = "created"
	KindEscalation = "escalation"
)

// NotifyJob is one unit of dispatch work: an alert snapshot plus the reason
// it should be notified. The snapshot is owned by the job, the dispatcher
// never touches live store state.
type NotifyJob struct {
	Alert    *models.Alert
	Kind     string
	Level    int
	Channels []string
}

type Queue struct {
	jobs  *list.SafeListLimited
	stats *astats.Stats
}

func New(size int64, stats *astats.Stats) *Queue {
	if size <= 0 {
		size = 100000
	}
	return &Queue{
		jobs:  list.NewSafeListLimited(int(size)),
		stats: stats,
	}
}

// PushNotify returns false when the queue is full; callers decide whether
// to retry later or log the loss.
func (q *Queue) PushNotify(job *NotifyJob) bool {
	return q.jobs.PushFront(job)
}

func (q *Queue) PopBackBy(max int) []interface{} {
	return q.jobs.PopBackBy(max)
}

func (q *Queue) Len() int {
	return q.jobs.Len()
}

func (q *Queue) ReportQueueSize() {
	for {
		time.Sleep(time.Second)

		q.stats.GaugeAlertQueueSize.Set(float64(q.jobs.Len()))
	}
}
