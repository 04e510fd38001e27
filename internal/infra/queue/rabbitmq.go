package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tgeasy/internal/domain"
	"tgeasy/internal/infra/metrics"
)

// RabbitSyncQueue реализует очередь задач синхронизации через AMQP.
// Публикация и чтение идут по разным каналам одного соединения.
type RabbitSyncQueue struct {
	conn    *amqp.Connection
	pub     *amqp.Channel
	sub     *amqp.Channel
	queue   string
	pubMu   sync.Mutex
	once    sync.Once
	subErr  error
	deliver <-chan amqp.Delivery
}

// NewRabbitSyncQueue подключается к брокеру и объявляет устойчивую очередь.
func NewRabbitSyncQueue(amqpURL, queue string) (*RabbitSyncQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}

	start := time.Now()
	conn, err := amqp.Dial(amqpURL)
	metrics.ObserveNetworkRequest("rabbitmq", "dial", queue, start, err)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if _, err := pub.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	sub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := sub.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &RabbitSyncQueue{conn: conn, pub: pub, sub: sub, queue: queue}, nil
}

// Enqueue публикует задачу как постоянное сообщение.
func (q *RabbitSyncQueue) Enqueue(ctx context.Context, job domain.SyncJob) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	}()

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.RequestedAt,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive ждёт следующую задачу. Подтверждение выполняется вручную через возвращённую функцию.
func (q *RabbitSyncQueue) Receive(ctx context.Context) (domain.SyncJob, domain.SyncAckFunc, error) {
	q.once.Do(func() {
		q.deliver, q.subErr = q.sub.Consume(q.queue, "", false, false, false, false, nil)
	})
	if q.subErr != nil {
		return domain.SyncJob{}, nil, fmt.Errorf("consume %s: %w", q.queue, q.subErr)
	}

	for {
		select {
		case <-ctx.Done():
			return domain.SyncJob{}, nil, ctx.Err()
		case d, ok := <-q.deliver:
			if !ok {
				return domain.SyncJob{}, nil, errors.New("rabbitmq: delivery channel closed")
			}
			var job domain.SyncJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				_ = d.Nack(false, false)
				return domain.SyncJob{}, nil, fmt.Errorf("decode job: %w", err)
			}
			return job, ackDelivery(d, q.queue), nil
		}
	}
}

func ackDelivery(d amqp.Delivery, queue string) domain.SyncAckFunc {
	return func(success bool) (err error) {
		start := time.Now()
		if success {
			defer func() { metrics.ObserveNetworkRequest("rabbitmq", "ack", queue, start, err) }()
			return d.Ack(false)
		}
		defer func() { metrics.ObserveNetworkRequest("rabbitmq", "requeue", queue, start, err) }()
		return d.Nack(false, true)
	}
}

// Close закрывает каналы и соединение.
func (q *RabbitSyncQueue) Close() error {
	_ = q.sub.Close()
	_ = q.pub.Close()
	return q.conn.Close()
}
