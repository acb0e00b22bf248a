package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"courtdesk/internal/domain"
	"courtdesk/internal/metrics"
	"courtdesk/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	outcomeDelivered = "delivered"
	outcomeSkipped   = "skipped"
	outcomeRetry     = "retry"
	outcomeFailed    = "failed"
)

// Dispatcher persists side effects and delivers them in the background.
// Enqueue never waits on delivery.
type Dispatcher struct {
	store       domain.EffectTaskStore
	broadcaster domain.Broadcaster
	messenger   domain.Messenger
	staff       domain.StaffNotifier

	redis         *redis.Client
	redisQueueKey string
	deadLetterKey string
	pushTimeout   time.Duration

	retryPolicy  RetryPolicy
	queue        chan models.EffectTask
	pollInterval time.Duration
	batchSize    int
	logger       *zerolog.Logger
}

// Sinks are the delivery channels of a dispatcher. A nil sink skips its kind.
type Sinks struct {
	Broadcaster domain.Broadcaster
	Messenger   domain.Messenger
	Staff       domain.StaffNotifier
}

// Options tune queueing and polling. Zero values use defaults.
type Options struct {
	QueueSize    int
	PollInterval time.Duration
	BatchSize    int
}

// NewDispatcher builds a dispatcher with sane defaults.
func NewDispatcher(store domain.EffectTaskStore, sinks Sinks, redisClient *redis.Client, retry RetryPolicy, opts Options, logger *zerolog.Logger) *Dispatcher {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 5 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "dispatcher").Logger()

	return &Dispatcher{
		store:         store,
		broadcaster:   sinks.Broadcaster,
		messenger:     sinks.Messenger,
		staff:         sinks.Staff,
		redis:         redisClient,
		redisQueueKey: "effects:queue",
		deadLetterKey: "effects:deadletter",
		pushTimeout:   200 * time.Millisecond,
		retryPolicy:   retry,
		queue:         make(chan models.EffectTask, opts.QueueSize),
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
		logger:        &l,
	}
}

// Enqueue persists the task, then hands it to redis or the in-memory queue.
// A task that fits neither is picked up by polling.
func (d *Dispatcher) Enqueue(ctx context.Context, kind string, tenantID, reservationID int64, payload any) error {
	if kind == "" {
		return errors.New("effect kind is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.EffectTask{
		Kind:          kind,
		TenantID:      tenantID,
		ReservationID: reservationID,
		Payload:       string(raw),
		Status:        models.TaskPending,
	}
	if err := d.store.CreateEffectTask(ctx, &task); err != nil {
		return fmt.Errorf("persist effect task: %w", err)
	}

	if d.redis != nil {
		if err := d.pushRedis(ctx, d.redisQueueKey, task); err != nil {
			d.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case d.queue <- task:
	default:
		d.logger.Warn().Int64("task_id", task.ID).Msg("Memory queue full, task left to polling")
	}
	return nil
}

// Start runs the delivery loop until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info().Msg("Effect dispatcher started")
	defer d.logger.Info().Msg("Effect dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := d.tryLocalQueue(); ok {
			d.processTask(ctx, &t)
			continue
		}

		if t, ok := d.tryRedis(ctx); ok {
			d.processTask(ctx, &t)
			continue
		}

		if n := d.pollOnce(ctx); n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.pollInterval):
			}
		}
	}
}

// pollOnce processes due tasks from storage and returns how many it saw.
func (d *Dispatcher) pollOnce(ctx context.Context) int {
	tasks, err := d.store.GetPendingEffectTasks(ctx, d.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error().Err(err).Msg("Failed to fetch pending effect tasks")
		}
		return 0
	}
	for i := range tasks {
		d.processTask(ctx, &tasks[i])
	}
	return len(tasks)
}

func (d *Dispatcher) tryLocalQueue() (models.EffectTask, bool) {
	select {
	case t := <-d.queue:
		return t, true
	default:
		return models.EffectTask{}, false
	}
}

func (d *Dispatcher) tryRedis(ctx context.Context) (models.EffectTask, bool) {
	if d.redis == nil {
		return models.EffectTask{}, false
	}
	res, err := d.redis.BRPop(ctx, time.Second, d.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			d.logger.Error().Err(err).Msg("Redis BRPOP failed")
		}
		return models.EffectTask{}, false
	}
	if len(res) != 2 {
		return models.EffectTask{}, false
	}
	var task models.EffectTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		d.logger.Error().Err(err).Msg("Failed to decode redis effect task")
		return models.EffectTask{}, false
	}
	return task, true
}

func (d *Dispatcher) processTask(ctx context.Context, task *models.EffectTask) {
	claimed, err := d.store.ClaimEffectTask(ctx, task.ID)
	if err != nil {
		d.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to claim effect task")
		return
	}
	if !claimed {
		return
	}

	delivered, err := d.deliver(ctx, task)
	if err != nil {
		d.retryOrFail(ctx, task, err)
		return
	}

	outcome := outcomeDelivered
	if !delivered {
		outcome = outcomeSkipped
	}
	metrics.IncEffect(task.Kind, outcome)
	if err := d.store.UpdateEffectTaskStatus(ctx, task.ID, models.TaskCompleted, "", nil); err != nil {
		d.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark effect task completed")
	}
}

// deliver routes a task to its sink. It reports false when no sink is
// configured for the kind.
func (d *Dispatcher) deliver(ctx context.Context, task *models.EffectTask) (bool, error) {
	switch task.Kind {
	case models.EffectBroadcast:
		var p models.BroadcastPayload
		if err := json.Unmarshal([]byte(task.Payload), &p); err != nil {
			return false, fmt.Errorf("decode broadcast payload: %w", err)
		}
		if d.broadcaster == nil {
			return false, nil
		}
		body, err := broadcastBody(p)
		if err != nil {
			return false, err
		}
		return true, d.broadcaster.Broadcast(ctx, p.Channel, p.Event, body)

	case models.EffectMessage:
		var p models.MessagePayload
		if err := json.Unmarshal([]byte(task.Payload), &p); err != nil {
			return false, fmt.Errorf("decode message payload: %w", err)
		}
		if d.messenger == nil {
			return false, nil
		}
		return true, d.messenger.SendMessage(ctx, p.Phone, p.Text)

	case models.EffectStaffAlert:
		var p models.StaffAlertPayload
		if err := json.Unmarshal([]byte(task.Payload), &p); err != nil {
			return false, fmt.Errorf("decode staff alert payload: %w", err)
		}
		if d.staff == nil {
			return false, nil
		}
		return true, d.staff.NotifyStaff(ctx, task.TenantID, p.Text)

	default:
		return false, fmt.Errorf("unknown effect kind: %s", task.Kind)
	}
}

// broadcastBody is what realtime clients receive: the reservation, or a
// deletion marker.
func broadcastBody(p models.BroadcastPayload) ([]byte, error) {
	if p.Deleted {
		return json.Marshal(struct {
			Deleted bool  `json:"deleted"`
			ID      int64 `json:"id"`
		}{true, p.ID})
	}
	return json.Marshal(p.Reservation)
}

func (d *Dispatcher) retryOrFail(ctx context.Context, task *models.EffectTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= d.retryPolicy.MaxRetries {
		d.logger.Error().
			Err(cause).
			Int64("task_id", task.ID).
			Str("kind", task.Kind).
			Int("attempts", attempt).
			Msg("Effect task failed permanently")
		metrics.IncEffect(task.Kind, outcomeFailed)
		if err := d.store.UpdateEffectTaskStatus(ctx, task.ID, models.TaskFailed, cause.Error(), nil); err != nil {
			d.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark effect task failed")
		}
		task.Status = models.TaskFailed
		d.pushDeadLetter(ctx, task)
		return
	}

	next := time.Now().Add(d.retryPolicy.NextDelay(attempt))
	d.logger.Warn().
		Err(cause).
		Int64("task_id", task.ID).
		Str("kind", task.Kind).
		Time("next_retry_at", next).
		Msg("Effect task failed, will retry")
	metrics.IncEffect(task.Kind, outcomeRetry)
	if err := d.store.UpdateEffectTaskStatus(ctx, task.ID, models.TaskRetry, cause.Error(), &next); err != nil {
		d.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark effect task for retry")
	}
}

func (d *Dispatcher) pushRedis(ctx context.Context, key string, task models.EffectTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d.pushTimeout)
	defer cancel()
	return d.redis.LPush(ctx, key, data).Err()
}

func (d *Dispatcher) pushDeadLetter(ctx context.Context, task *models.EffectTask) {
	if d.redis == nil {
		return
	}
	if err := d.pushRedis(ctx, d.deadLetterKey, *task); err != nil {
		d.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Dead letter push failed")
	}
}
