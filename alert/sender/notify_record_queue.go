package sender

import (
	"errors"
	"time"

	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/pkg/ctx"

	"github.com/toolkits/pkg/container/list"
	"github.com/toolkits/pkg/logger"
)

// delivery outcomes buffer here and land in the database in batches, so a
// slow database never blocks the send path
var NotifyRecordQueue = list.NewSafeListLimited(1000000)

// PushNotifyRecords queues records for the batch writer. Returns an error
// when the queue is full.
func PushNotifyRecords(records ...*models.NotifyRecord) error {
	for _, record := range records {
		if ok := NotifyRecordQueue.PushFront(record); !ok {
			logger.Warningf("notify record queue is full, record: %+v", record)
			return errors.New("notify record queue is full")
		}
	}
	return nil
}

type NotifyRecordConsumer struct {
	ctx  *ctx.Context
	quit chan struct{}
}

func NewNotifyRecordConsumer(ctx *ctx.Context) *NotifyRecordConsumer {
	return &NotifyRecordConsumer{
		ctx:  ctx,
		quit: make(chan struct{}),
	}
}

func (c *NotifyRecordConsumer) LoopConsume() {
	duration := time.Duration(100) * time.Millisecond
	for {
		select {
		case <-c.quit:
			c.drain()
			return
		case <-time.After(duration):
		}

		items := NotifyRecordQueue.PopBackBy(100)
		if len(items) == 0 {
			continue
		}

		records := make([]*models.NotifyRecord, 0, len(items))
		for _, item := range items {
			records = append(records, item.(*models.NotifyRecord))
		}

		c.consume(records)
	}
}

func (c *NotifyRecordConsumer) Stop() {
	close(c.quit)
}

func (c *NotifyRecordConsumer) drain() {
	for {
		items := NotifyRecordQueue.PopBackBy(100)
		if len(items) == 0 {
			return
		}
		records := make([]*models.NotifyRecord, 0, len(items))
		for _, item := range items {
			records = append(records, item.(*models.NotifyRecord))
		}
		c.consume(records)
	}
}

func (c *NotifyRecordConsumer) consume(records []*models.NotifyRecord) {
	if err := models.DB(c.ctx).CreateInBatches(records, 100).Error; err != nil {
		logger.Errorf("failed to persist %d notify records: %v", len(records), err)
	}
}
