package pipeline

import (
	"context"
	"sync"
	"time"

	"waypool-chat/config"
	"waypool-chat/internal/authz"
	"waypool-chat/internal/domain"
	"waypool-chat/internal/events"
	"waypool-chat/internal/repository"
	waypool_errors "waypool-chat/pkg/errors"
	"waypool-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipeline is the write path for messages. Enqueue validates and authorizes,
// then accepts the message into one of two in-memory lanes; background
// workers drain each lane in batches, persist and publish. The queue is a
// latency buffer, not a durability layer: on terminal failure the sender
// gets a failed event and the message is dropped.
type Pipeline struct {
	cfg config.PipelineConfig

	messages    repository.MessageRepository
	connections repository.ConnectionRepository
	authorizer  *authz.Authorizer
	bus         events.EventBus
	log         *logger.Logger

	normal   chan *domain.QueuedMessage
	priority chan *domain.QueuedMessage

	stop chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(
	cfg config.PipelineConfig,
	messages repository.MessageRepository,
	connections repository.ConnectionRepository,
	authorizer *authz.Authorizer,
	bus events.EventBus,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		messages:    messages,
		connections: connections,
		authorizer:  authorizer,
		bus:         bus,
		log:         log,
		normal:      make(chan *domain.QueuedMessage, cfg.QueueSize),
		priority:    make(chan *domain.QueuedMessage, cfg.QueueSize),
		stop:        make(chan struct{}),
	}
}

// Start launches one drain worker per lane.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(2)
		go p.drain(p.normal, p.cfg.BatchInterval, p.cfg.BatchSize)
		go p.drain(p.priority, p.cfg.PriorityInterval, p.cfg.PriorityBatch)
		p.log.Info("pipeline started",
			zap.Int("queue_size", p.cfg.QueueSize),
			zap.Duration("batch_interval", p.cfg.BatchInterval),
			zap.Duration("priority_interval", p.cfg.PriorityInterval))
	})
}

// Stop drains both lanes and waits for in-flight batches.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
		p.log.Info("pipeline stopped")
	})
}

// Enqueue validates and authorizes m, then places it in a lane. Denials come
// back to the caller directly instead of as a failed event; only persistence
// happens asynchronously. It never blocks: a full lane returns ErrQueueFull
// so the transport can tell the sender immediately. The caller keeps
// correlationID to match the eventual confirmed or failed event back to its
// pending send.
func (p *Pipeline) Enqueue(ctx context.Context, m *domain.Message, correlationID string) error {
	if err := Validate(m); err != nil {
		return err
	}
	if err := p.authorize(ctx, m); err != nil {
		return err
	}

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	queued := &domain.QueuedMessage{
		CorrelationID: correlationID,
		Message:       *m,
		Lane:          domain.LaneNormal,
		Status:        domain.QueueStatusQueued,
		EnqueuedAt:    time.Now().UTC(),
	}
	lane := p.normal
	if m.IsPriority() {
		queued.Lane = domain.LanePriority
		lane = p.priority
	}

	select {
	case lane <- queued:
		return nil
	default:
		return waypool_errors.ErrQueueFull
	}
}

// drain collects up to batchSize messages per tick and processes the batch.
// On shutdown it flushes whatever is still buffered.
func (p *Pipeline) drain(lane chan *domain.QueuedMessage, interval time.Duration, batchSize int) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			p.processBatch(collect(lane, len(lane)))
			return
		case <-ticker.C:
			p.processBatch(collect(lane, batchSize))
		}
	}
}

func collect(lane chan *domain.QueuedMessage, max int) []*domain.QueuedMessage {
	var batch []*domain.QueuedMessage
	for len(batch) < max {
		select {
		case m := <-lane:
			batch = append(batch, m)
		default:
			return batch
		}
	}
	return batch
}

// processBatch fans the batch out, one goroutine per message. Messages in a
// batch are independent; ordering within a conversation comes from the
// persisted created_at, not from batch position.
func (p *Pipeline) processBatch(batch []*domain.QueuedMessage) {
	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(batch))
	for _, queued := range batch {
		go func(q *domain.QueuedMessage) {
			defer wg.Done()
			p.process(q)
		}(queued)
	}
	wg.Wait()
}

func (p *Pipeline) process(q *domain.QueuedMessage) {
	ctx := context.Background()
	m := &q.Message

	var err error
	for q.Attempts = 0; q.Attempts <= p.cfg.MaxRetries; q.Attempts++ {
		if q.Attempts > 0 {
			time.Sleep(p.cfg.RetryBackoff << (q.Attempts - 1))
		}
		if err = p.persist(ctx, m); err == nil {
			break
		}
		p.log.Warnf("pipeline: persist attempt %d failed for %s: %v", q.Attempts+1, m.ID, err)
	}
	if err != nil {
		p.fail(ctx, q, err)
		return
	}

	q.Status = domain.QueueStatusSent
	p.publish(ctx, events.NewMessageNewEvent(m))
	p.publish(ctx, events.NewMessageConfirmedEvent(q.CorrelationID, m))
}

func (p *Pipeline) authorize(ctx context.Context, m *domain.Message) error {
	switch m.ConversationKind {
	case domain.ConversationDirect:
		return p.authorizer.EnsureDirectAllowed(ctx, m.SenderID, m.RecipientID.UUID)
	case domain.ConversationRide:
		return p.authorizer.CanJoinRoom(ctx, domain.ConversationRide, m.RideID.UUID, m.SenderID)
	case domain.ConversationGroup:
		return p.authorizer.CanJoinRoom(ctx, domain.ConversationGroup, m.GroupID.UUID, m.SenderID)
	}
	return waypool_errors.ErrInvalidInput
}

func (p *Pipeline) persist(ctx context.Context, m *domain.Message) error {
	if err := p.messages.Create(ctx, m); err != nil {
		return err
	}
	if m.ConversationKind == domain.ConversationDirect {
		if err := p.connections.UpdateLastMessageAt(ctx, m.SenderID, m.RecipientID.UUID, m.CreatedAt); err != nil {
			// The message is durable; a stale last_message_at only affects
			// chat list ordering until the next send.
			p.log.Warnf("pipeline: last_message_at update failed for %s: %v", m.ConversationKey(), err)
		}
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, q *domain.QueuedMessage, err error) {
	q.Status = domain.QueueStatusFailed
	p.log.ErrorCtx(ctx, "pipeline: message dropped",
		zap.String("message_id", q.Message.ID.String()),
		zap.String("correlation_id", q.CorrelationID),
		zap.String("lane", string(q.Lane)),
		zap.Int("attempts", q.Attempts),
		zap.Error(err))
	p.publish(ctx, events.NewMessageFailedEvent(q.CorrelationID, q.Message.SenderID, err.Error()))
}

func (p *Pipeline) publish(ctx context.Context, event events.Event) {
	if err := p.bus.Publish(ctx, event); err != nil {
		p.log.Warnf("pipeline: publish %s failed: %v", event.EventType(), err)
	}
}
