package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/infrastructure/resilience"
)

const evaluationQueueGroup = "evaluation-writers"

// Queue carries evaluation records from the API to the worker.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("multimodal-rag"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishEvaluation(ctx context.Context, record domain.EvaluationRecord) error {
	payload, err := encodeRecord(record)
	if err != nil {
		return err
	}
	err = q.executor.Execute(ctx, "nats.publish", func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}, classifyNATSError)
	return resilience.WrapUnavailable("nats publish", err, classifyNATSError)
}

// SubscribeEvaluations blocks until ctx is done, handing every decoded record
// to handler. Malformed messages are logged and dropped.
func (q *Queue) SubscribeEvaluations(ctx context.Context, handler func(context.Context, domain.EvaluationRecord) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, evaluationQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handleMessage(ctx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func handleMessage(ctx context.Context, data []byte, handler func(context.Context, domain.EvaluationRecord) error) {
	record, err := decodeRecord(data)
	if err != nil {
		slog.WarnContext(ctx, "evaluation_message_dropped", "error", err)
		return
	}
	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, record); err != nil {
		slog.ErrorContext(ctx, "evaluation_handler_failed",
			"message_id", record.MessageID,
			"error", err,
		)
	}
}

func encodeRecord(record domain.EvaluationRecord) ([]byte, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation record: %w", err)
	}
	return payload, nil
}

func decodeRecord(data []byte) (domain.EvaluationRecord, error) {
	var record domain.EvaluationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.EvaluationRecord{}, fmt.Errorf("decode evaluation record: %w", err)
	}
	if record.MessageID == "" || record.Question == "" {
		return domain.EvaluationRecord{}, fmt.Errorf("decode evaluation record: missing message_id or question")
	}
	return record, nil
}

// classifyNATSError retries connection-level failures only.
func classifyNATSError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	switch {
	case errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrNoResponders):
		return resilience.Transient
	default:
		return resilience.Permanent
	}
}
