package sender

import (
	"context"
	"sync"
	"time"

	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/errx"
	"github.com/klaxonhq/klaxon/storage"

	"github.com/google/uuid"
)

const inboxKey = "klaxon:inbox"

// InboxItem is one entry of the in-app feed, newest first.
type InboxItem struct {
	Id        string `json:"id"`
	AlertId   string `json:"alert_id"`
	Kind      string `json:"kind"`
	Level     int    `json:"level"`
	Severity  string `json:"severity"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}

// InappSender appends to a capped redis list so the feed survives restarts.
// Without redis it degrades to a process-local ring.
type InappSender struct {
	redis   storage.Redis
	maxSize int64

	mu    sync.Mutex
	local []InboxItem
}

func NewInappSender(redis storage.Redis, maxSize int64) *InappSender {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &InappSender{redis: redis, maxSize: maxSize}
}

func (is *InappSender) Send(ctx context.Context, m *Message) error {
	item := InboxItem{
		Id:        uuid.NewString(),
		AlertId:   m.Alert.Id,
		Kind:      m.Kind,
		Level:     m.Level,
		Severity:  m.Alert.Severity,
		Title:     m.Title,
		Text:      m.Text,
		CreatedAt: time.Now().Unix(),
	}

	if is.redis == nil {
		is.mu.Lock()
		is.local = append([]InboxItem{item}, is.local...)
		if int64(len(is.local)) > is.maxSize {
			is.local = is.local[:is.maxSize]
		}
		is.mu.Unlock()
		return nil
	}

	buf, err := json.Marshal(item)
	if err != nil {
		return errx.NewNotification(models.InApp, err)
	}
	if err := storage.LPush(ctx, is.redis, inboxKey, string(buf)); err != nil {
		return errx.NewNotification(models.InApp, err)
	}
	if err := storage.LTrim(ctx, is.redis, inboxKey, 0, is.maxSize-1); err != nil {
		return errx.NewNotification(models.InApp, err)
	}
	return nil
}

// Feed returns the newest limit entries.
func (is *InappSender) Feed(ctx context.Context, limit int64) ([]InboxItem, error) {
	if limit <= 0 || limit > is.maxSize {
		limit = is.maxSize
	}

	if is.redis == nil {
		is.mu.Lock()
		defer is.mu.Unlock()
		if int64(len(is.local)) < limit {
			limit = int64(len(is.local))
		}
		out := make([]InboxItem, limit)
		copy(out, is.local[:limit])
		return out, nil
	}

	return storage.RangeList[InboxItem](ctx, is.redis, inboxKey, 0, limit-1)
}
