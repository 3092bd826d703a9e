// Package main provides the alerting consumer that reads the audit stream and raises delivery failure alerts.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/rueidis"

	"github.com/jnst/asset-delivery-engine/internal/config"
	"github.com/jnst/asset-delivery-engine/internal/logger"
	"github.com/jnst/asset-delivery-engine/internal/model"
	"github.com/jnst/asset-delivery-engine/internal/service"
)

const (
	groupName         = "delivery-alerts"
	redisBlockTimeout = 1000 // milliseconds
	readBatchSize     = 10
	errorRetryDelay   = 1 * time.Second
	signalBufferSize  = 1
	exitCode          = 1
)

// MessageHandler processes audit records from Redis Streams.
type MessageHandler struct {
	redisClient rueidis.Client
	logger      *slog.Logger
	failures    atomic.Int64
}

// NewMessageHandler creates a new message handler instance.
func NewMessageHandler(redisClient rueidis.Client, l *slog.Logger) *MessageHandler {
	return &MessageHandler{
		redisClient: redisClient,
		logger:      logger.Or(l),
	}
}

// HandleAuditRecord raises an alert for FAILED records.
func (h *MessageHandler) HandleAuditRecord(_ context.Context, rec *model.AuditRecord) error {
	if rec.Action != model.AuditFailed {
		h.logger.Debug("audit record",
			slog.Int64("seq", rec.Seq),
			slog.String("action", string(rec.Action)),
			slog.String("order_id", rec.OrderID),
		)
		return nil
	}

	total := h.failures.Add(1)
	h.logger.Warn("delivery failure alert",
		slog.Int64("seq", rec.Seq),
		slog.String("order_id", rec.OrderID),
		slog.String("detail", rec.Detail),
		slog.Time("recorded_at", rec.Timestamp),
		slog.Int64("failures_seen", total),
	)

	return nil
}

// Failures returns the number of FAILED records handled.
func (h *MessageHandler) Failures() int64 {
	return h.failures.Load()
}

func setupRedisClient(cfg *config.Config) (rueidis.Client, error) {
	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		return nil, err
	}

	return redisClient, nil
}

func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping consumer")
		cancel()
	}()

	return ctx, cancel
}

func createConsumerGroup(ctx context.Context, redisClient rueidis.Client, streamKey string) {
	createGroupCmd := redisClient.B().XgroupCreate().Key(streamKey).Group(groupName).Id("0").Mkstream().Build()
	if err := redisClient.Do(ctx, createGroupCmd).Error(); err != nil {
		slog.Info("consumer group creation result (may already exist)", slog.String("error", err.Error()))
	}
}

func runConsumerLoop(ctx context.Context, handler *MessageHandler, streamKey, consumerName string) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("consumer stopped")
			return
		default:
			if err := handler.consumeMessages(ctx, streamKey, consumerName); err != nil {
				slog.Error("error consuming messages", slog.String("error", err.Error()))
				time.Sleep(errorRetryDelay)
			}
		}
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	loggerInstance := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(loggerInstance)

	redisClient, err := setupRedisClient(cfg)
	if err != nil {
		slog.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
	defer redisClient.Close()

	handler := NewMessageHandler(redisClient, loggerInstance)
	ctx, cancel := setupSignalHandling()
	defer cancel()

	createConsumerGroup(ctx, redisClient, cfg.AuditStream)

	slog.Info("starting alert consumer",
		slog.String("service", "consumer"),
		slog.String("stream", cfg.AuditStream),
		slog.String("group", groupName),
		slog.String("consumer", cfg.ConsumerName),
	)

	runConsumerLoop(ctx, handler, cfg.AuditStream, cfg.ConsumerName)
}

func (h *MessageHandler) readMessages(
	ctx context.Context,
	streamKey, consumerName string,
) (map[string][]rueidis.XRangeEntry, error) {
	readCmd := h.redisClient.B().Xreadgroup().Group(groupName, consumerName).
		Count(readBatchSize).
		Block(redisBlockTimeout).
		Streams().
		Key(streamKey).
		Id(">").
		Build()

	result := h.redisClient.Do(ctx, readCmd)
	if err := result.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}

		return nil, err
	}

	return result.AsXRead()
}

func (h *MessageHandler) acknowledgeMessage(ctx context.Context, streamKey, messageID string) {
	ackCmd := h.redisClient.B().Xack().Key(streamKey).Group(groupName).Id(messageID).Build()
	if err := h.redisClient.Do(ctx, ackCmd).Error(); err != nil {
		h.logger.Error("failed to ACK message",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
	} else {
		h.logger.Debug("ACKed message", slog.String("message_id", messageID))
	}
}

func (h *MessageHandler) consumeMessages(ctx context.Context, streamKey, consumerName string) error {
	streams, err := h.readMessages(ctx, streamKey, consumerName)
	if err != nil {
		return err
	}

	for _, messages := range streams {
		for _, message := range messages {
			if err := h.processMessage(ctx, message); err != nil {
				h.logger.Error("failed to process message",
					slog.String("message_id", message.ID),
					slog.String("error", err.Error()),
				)

				continue
			}

			h.acknowledgeMessage(ctx, streamKey, message.ID)
		}
	}

	return nil
}

func (h *MessageHandler) processMessage(ctx context.Context, message rueidis.XRangeEntry) error {
	rec, err := service.ParseStreamRecord(message.FieldValues)
	if err != nil {
		return err
	}

	return h.HandleAuditRecord(ctx, rec)
}
