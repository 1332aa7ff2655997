package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cutekitek/rankode-judge/internal/mappers"
	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	IntakeQueue  = "judge-submissions"
	VerdictQueue = "judge-verdicts"

	consumerTag    = "rankode-judge"
	reconnectDelay = 15 * time.Second
	publishTimeout = 5 * time.Second
)

type RabbitMqHandlerConfig struct {
	Login    string
	Password string
	Host     string
	Port     int
	Prefetch int
}

type RabbitMQHandler struct {
	cfg    RabbitMqHandlerConfig
	intake Intake

	mu           sync.Mutex
	conn         *amqp.Connection
	consumerChan *amqp.Channel
	producerChan *amqp.Channel
	closed       atomic.Bool
	wg           sync.WaitGroup
}

func NewRabbitMQHandler(cfg RabbitMqHandlerConfig, intake Intake) *RabbitMQHandler {
	return &RabbitMQHandler{cfg: cfg, intake: intake}
}

// SetIntake must be called before Start when the handler was built before
// the service it feeds, as the handler is also the verdict notifier.
func (r *RabbitMQHandler) SetIntake(intake Intake) {
	r.intake = intake
}

func (r *RabbitMQHandler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.connect(); err != nil {
		return errors.Wrap(err, "failed to connect to rabbitmq")
	}
	if err := r.startProducer(); err != nil {
		return errors.Wrap(err, "failed to start producer")
	}
	if err := r.startConsumer(); err != nil {
		return errors.Wrap(err, "failed to start consumer")
	}
	return nil
}

func (r *RabbitMQHandler) startConsumer() error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	queue, err := channel.QueueDeclare(IntakeQueue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	// Unacked messages are the jobs the judge currently holds.
	if err := channel.Qos(r.cfg.Prefetch, 0, false); err != nil {
		return err
	}
	del, err := channel.Consume(queue.Name, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}

	r.consumerChan = channel
	r.wg.Add(1)
	go r.listener(del)
	return nil
}

func (r *RabbitMQHandler) startProducer() error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	if _, err := channel.QueueDeclare(VerdictQueue, true, false, false, false, nil); err != nil {
		return err
	}
	r.producerChan = channel
	return nil
}

func (r *RabbitMQHandler) connect() error {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d", r.cfg.Login, r.cfg.Password, r.cfg.Host, r.cfg.Port)
	conn, err := amqp.Dial(url)
	if err != nil {
		return err
	}
	r.conn = conn
	errChan := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		closeErr := <-errChan
		if r.closed.Load() {
			return
		}
		slog.Error("rabbitmq connection lost", "error", closeErr)

		for {
			time.Sleep(reconnectDelay)
			if r.closed.Load() {
				return
			}
			err := r.Start()
			if err == nil {
				slog.Info("rabbitmq connection restored")
				return
			}
			slog.Error("failed to reconnect to rabbitmq", "error", err)
		}
	}()
	return nil
}

func (r *RabbitMQHandler) listener(deliveries <-chan amqp.Delivery) {
	defer r.wg.Done()
	for d := range deliveries {
		dispatch(context.Background(), r.intake, d.Body, d)
	}
}

// Notify publishes the verdict event of a judged submission.
func (r *RabbitMQHandler) Notify(ctx context.Context, sub *models.Submission) error {
	if r.closed.Load() {
		return errors.New("rabbitmq handler is closed")
	}
	body, err := json.Marshal(mappers.SubmissionToVerdictEvent(sub))
	if err != nil {
		return errors.Wrap(err, "failed to encode verdict event")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.producerChan == nil {
		return errors.New("rabbitmq producer is not started")
	}
	err = r.producerChan.PublishWithContext(ctx, "", VerdictQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	return errors.Wrap(err, "failed to publish verdict")
}

// StopConsuming stops new deliveries. Messages already received can still
// be settled, so running jobs finish normally.
func (r *RabbitMQHandler) StopConsuming() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumerChan == nil {
		return nil
	}
	return r.consumerChan.Cancel(consumerTag, false)
}

func (r *RabbitMQHandler) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.mu.Lock()
	if r.consumerChan != nil {
		r.consumerChan.Close()
	}
	if r.producerChan != nil {
		r.producerChan.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
