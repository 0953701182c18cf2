// Package bus fans lifecycle events out to the configured sinks. Sinks are
// best effort: the alert pipeline never blocks on them, a full bus drops
// the event and counts the drop.
package bus

import (
	"context"
	"time"

	"github.com/klaxonhq/klaxon/alert/astats"
	"github.com/klaxonhq/klaxon/models"
	"github.com/klaxonhq/klaxon/storage"

	jsoniter "github.com/json-iterator/go"
	"github.com/jinzhu/copier"
	"github.com/segmentio/kafka-go"
	"github.com/toolkits/pkg/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	EventAlertCreated      = "alert.created"
	EventAlertDeduplicated = "alert.deduplicated"
	EventAlertGrouped      = "alert.grouped"
	EventAlertAcknowledged = "alert.acknowledged"
	EventAlertResolved     = "alert.resolved"
	EventAlertSuppressed   = "alert.suppressed"
	EventAlertUnsuppressed = "alert.unsuppressed"
	EventAlertEscalated    = "alert.escalated"
	EventNotifySent        = "notify.sent"
	EventNotifyFailed      = "notify.failed"
)

const eventsKey = "klaxon:events"

type Event struct {
	Type  string                 `json:"type"`
	At    int64                  `json:"at"`
	Alert *models.Alert          `json:"alert,omitempty"`
	Meta  map[string]interface{} `json:"meta,omitempty"`
}

type KafkaConfig struct {
	Enable       bool
	Brokers      []string
	Topic        string
	WriteTimeout int64
}

type Config struct {
	QueueSize    int
	RedisEnable  bool
	RedisMaxSize int64
	Kafka        KafkaConfig
}

type Bus struct {
	ch     chan *Event
	redis  storage.Redis
	writer *kafka.Writer
	maxLen int64
	stats  *astats.Stats

	quit chan struct{}
	done chan struct{}
}

func New(cfg Config, redis storage.Redis, stats *astats.Stats) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.RedisMaxSize <= 0 {
		cfg.RedisMaxSize = 10000
	}

	b := &Bus{
		ch:     make(chan *Event, cfg.QueueSize),
		maxLen: cfg.RedisMaxSize,
		stats:  stats,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if cfg.RedisEnable {
		b.redis = redis
	}

	if cfg.Kafka.Enable {
		writeTimeout := cfg.Kafka.WriteTimeout
		if writeTimeout <= 0 {
			writeTimeout = 10
		}
		b.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 100 * time.Millisecond,
			WriteTimeout: time.Duration(writeTimeout) * time.Second,
			RequiredAcks: kafka.RequireOne,
		}
	}

	return b
}

func (b *Bus) Start() {
	go b.loop()
}

// Publish queues one event. The alert is snapshotted so sinks never see a
// struct the store is still mutating.
func (b *Bus) Publish(typ string, alert *models.Alert, meta map[string]interface{}) {
	ev := &Event{Type: typ, At: time.Now().Unix(), Meta: meta}
	if alert != nil {
		snap := &models.Alert{}
		if err := copier.Copy(snap, alert); err == nil {
			ev.Alert = snap
		} else {
			ev.Alert = alert
		}
	}

	select {
	case b.ch <- ev:
	default:
		b.stats.CounterEventDropTotal.Inc()
		logger.Warningf("event bus full, drop event: %s", typ)
	}
}

func (b *Bus) loop() {
	defer close(b.done)
	for {
		select {
		case <-b.quit:
			for {
				select {
				case ev := <-b.ch:
					b.emit(ev)
				default:
					return
				}
			}
		case ev := <-b.ch:
			b.emit(ev)
			b.stats.GaugeEventBusSize.Set(float64(len(b.ch)))
		}
	}
}

func (b *Bus) emit(ev *Event) {
	if ev.Alert != nil {
		logger.Infof("event: type=%s alert=%s fingerprint=%s severity=%s state=%s",
			ev.Type, ev.Alert.Id, ev.Alert.Fingerprint, ev.Alert.Severity, ev.Alert.State)
	} else {
		logger.Infof("event: type=%s meta=%v", ev.Type, ev.Meta)
	}

	if b.redis == nil && b.writer == nil {
		return
	}

	buf, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("failed to marshal event %s: %v", ev.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if b.redis != nil {
		if err := storage.LPush(ctx, b.redis, eventsKey, string(buf)); err != nil {
			logger.Errorf("failed to push event to redis: %v", err)
		} else if err := storage.LTrim(ctx, b.redis, eventsKey, 0, b.maxLen-1); err != nil {
			logger.Errorf("failed to trim event list: %v", err)
		}
	}

	if b.writer != nil {
		key := ev.Type
		if ev.Alert != nil {
			key = ev.Alert.Fingerprint
		}
		if err := b.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: buf}); err != nil {
			logger.Errorf("failed to write event to kafka: %v", err)
		}
	}
}

// Close drains pending events and releases the kafka writer.
func (b *Bus) Close() {
	close(b.quit)
	<-b.done
	if b.writer != nil {
		b.writer.Close()
	}
}
