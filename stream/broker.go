package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/loom/ext"
	"github.com/xraph/loom/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Broker)(nil)
	_ ext.RunStarted    = (*Broker)(nil)
	_ ext.RunCompleted  = (*Broker)(nil)
	_ ext.RunFailed     = (*Broker)(nil)
	_ ext.RunSuspended  = (*Broker)(nil)
	_ ext.RunCanceled   = (*Broker)(nil)
	_ ext.StepCompleted = (*Broker)(nil)
	_ ext.StepFailed    = (*Broker)(nil)
	_ ext.StepSuspended = (*Broker)(nil)
	_ ext.Shutdown      = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the ext.Extension
// interface to receive lifecycle events and fans them out to subscribers
// via topic-based pub/sub. Register it with the engine:
//
//	b := stream.NewBroker(logger)
//	eng := engine.New(engine.WithExtension(b))
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe creates a subscriber on the given topics and returns it.
func (b *Broker) Subscribe(topics ...string) *Subscriber {
	sub := newSubscriber(b.bufferSize, b.defaultCredits)
	b.subscribers.Store(sub.ID(), sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes a subscriber from all topics and closes it.
func (b *Broker) Unsubscribe(subscriberID string) {
	if v, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		sub := v.(*Subscriber)
		b.topics.UnsubscribeAll(subscriberID)
		sub.Close()
	}
}

// TotalPublished returns the count of events published since start.
func (b *Broker) TotalPublished() int64 { return b.totalPublished.Load() }

// TotalDropped returns the count of deliveries dropped by flow control.
func (b *Broker) TotalDropped() int64 { return b.totalDropped.Load() }

// publish fans one event out to all topics it resolves to.
func (b *Broker) publish(evtType EventType, data *RunEventData) {
	payload, err := json.Marshal(data)
	if err != nil {
		b.logger.Warn("failed to encode stream event",
			slog.String("type", string(evtType)),
			slog.String("error", err.Error()),
		)
		return
	}

	topics := resolveTopics(data.RunID, data.WorkflowID)
	evt := &Event{
		Type:      evtType,
		Timestamp: time.Now().UTC(),
		Topic:     RunTopic(data.RunID),
		Data:      payload,
	}

	targets := 0
	for _, topic := range topics {
		targets += b.topics.SubscriberCount(topic)
	}
	delivered := b.topics.Broadcast(topics, evt)

	b.totalPublished.Add(1)
	if dropped := int64(targets - delivered); dropped > 0 {
		b.totalDropped.Add(dropped)
	}
}

func runData(r *workflow.Run) *RunEventData {
	return &RunEventData{
		RunID:      r.ID().String(),
		WorkflowID: r.WorkflowID(),
		Status:     string(r.Status()),
	}
}

// OnRunStarted implements ext.RunStarted.
func (b *Broker) OnRunStarted(_ context.Context, r *workflow.Run) error {
	b.publish(EventRunStarted, runData(r))
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (b *Broker) OnRunCompleted(_ context.Context, r *workflow.Run, elapsed time.Duration) error {
	data := runData(r)
	data.ElapsedMs = elapsed.Milliseconds()
	b.publish(EventRunCompleted, data)
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (b *Broker) OnRunFailed(_ context.Context, r *workflow.Run, err error) error {
	data := runData(r)
	data.Error = err.Error()
	b.publish(EventRunFailed, data)
	return nil
}

// OnRunSuspended implements ext.RunSuspended.
func (b *Broker) OnRunSuspended(_ context.Context, r *workflow.Run) error {
	b.publish(EventRunSuspended, runData(r))
	return nil
}

// OnRunCanceled implements ext.RunCanceled.
func (b *Broker) OnRunCanceled(_ context.Context, r *workflow.Run) error {
	b.publish(EventRunCanceled, runData(r))
	return nil
}

// OnStepCompleted implements ext.StepCompleted.
func (b *Broker) OnStepCompleted(_ context.Context, r *workflow.Run, stepID string, elapsed time.Duration) error {
	data := runData(r)
	data.StepID = stepID
	data.ElapsedMs = elapsed.Milliseconds()
	b.publish(EventStepCompleted, data)
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (b *Broker) OnStepFailed(_ context.Context, r *workflow.Run, stepID string, err error) error {
	data := runData(r)
	data.StepID = stepID
	data.Error = err.Error()
	b.publish(EventStepFailed, data)
	return nil
}

// OnStepSuspended implements ext.StepSuspended.
func (b *Broker) OnStepSuspended(_ context.Context, r *workflow.Run, stepID string) error {
	data := runData(r)
	data.StepID = stepID
	b.publish(EventStepSuspended, data)
	return nil
}

// OnShutdown implements ext.Shutdown: closes all subscribers.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber)
		b.topics.UnsubscribeAll(sub.ID())
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	return nil
}
