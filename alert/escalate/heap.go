package escalate

import (
	"sync"

	"github.com/klaxonhq/klaxon/models"
)

const (
	kindEscalation = "escalation"
	kindUnsuppress = "unsuppress"
)

// TimerEntry is one scheduled wakeup: either an escalation step or the end
// of a suppression window.
type TimerEntry struct {
	AlertId  string
	Kind     string
	DueAt    int64
	Level    int
	RowId    string
	Channels []string

	// arm generation; a mismatch at fire time means the alert was disarmed
	// after this entry was queued
	gen uint64
	// level bump already applied, only the notify push is outstanding
	applied bool
	alert   *models.Alert
}

// TimerHeap is a min-heap on DueAt behind a lock, sized so a runaway arm
// loop cannot eat the process.
type TimerHeap struct {
	lock    sync.RWMutex
	maxSize int
	entries []*TimerEntry
}

func NewTimerHeap(maxSize int) *TimerHeap {
	return &TimerHeap{
		maxSize: maxSize,
		entries: make([]*TimerEntry, 0),
	}
}

func (th *TimerHeap) Len() int {
	th.lock.RLock()
	defer th.lock.RUnlock()
	return len(th.entries)
}

func (th *TimerHeap) Push(entry *TimerEntry) bool {
	th.lock.Lock()
	defer th.lock.Unlock()
	if len(th.entries) >= th.maxSize {
		return false
	}
	th.entries = append(th.entries, entry)
	th.up(len(th.entries) - 1)
	return true
}

// PopDue removes and returns every entry due at now, soonest first.
func (th *TimerHeap) PopDue(now int64) []*TimerEntry {
	th.lock.Lock()
	defer th.lock.Unlock()

	var due []*TimerEntry
	for len(th.entries) > 0 && th.entries[0].DueAt <= now {
		due = append(due, th.entries[0])
		th.entries[0] = th.entries[len(th.entries)-1]
		th.entries = th.entries[:len(th.entries)-1]
		th.down(0)
	}
	return due
}

// Has reports whether a wakeup of the given kind is already queued for the
// alert. Linear scan, the heap stays small relative to notify traffic.
func (th *TimerHeap) Has(alertId, kind string) bool {
	th.lock.RLock()
	defer th.lock.RUnlock()
	for _, entry := range th.entries {
		if entry.Kind == kind && entry.AlertId == alertId {
			return true
		}
	}
	return false
}

func (th *TimerHeap) less(i, j int) bool {
	if th.entries[i].DueAt == th.entries[j].DueAt {
		return th.entries[i].AlertId < th.entries[j].AlertId
	}
	return th.entries[i].DueAt < th.entries[j].DueAt
}

func (th *TimerHeap) swap(i, j int) {
	th.entries[i], th.entries[j] = th.entries[j], th.entries[i]
}

func (th *TimerHeap) up(idx int) {
	if idx == 0 {
		return
	}
	parentIdx := (idx - 1) / 2
	if th.less(idx, parentIdx) {
		th.swap(idx, parentIdx)
		th.up(parentIdx)
	}
}

func (th *TimerHeap) down(idx int) {
	leftIdx := 2*idx + 1
	rightIdx := 2*idx + 2
	minIdx := idx
	if leftIdx < len(th.entries) && th.less(leftIdx, minIdx) {
		minIdx = leftIdx
	}
	if rightIdx < len(th.entries) && th.less(rightIdx, minIdx) {
		minIdx = rightIdx
	}
	if minIdx != idx {
		th.swap(idx, minIdx)
		th.down(minIdx)
	}
}
