package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/pkg/logger"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

var _ retrieval.JobPublisher = (*Producer)(nil)

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishReindex 投递文件重建任务，返回任务 ID
func (p *Producer) PublishReindex(ctx context.Context, userID, fileID string, provider retrieval.Provider) (string, error) {
	return p.publishFileJob(ctx, MessageTypeFileReindex, &FileJobMessage{
		JobID:    uuid.NewString(),
		UserID:   userID,
		FileID:   fileID,
		Provider: string(provider),
	})
}

// PublishDelete 投递文件删除任务，返回任务 ID
func (p *Producer) PublishDelete(ctx context.Context, userID, fileID string) (string, error) {
	return p.publishFileJob(ctx, MessageTypeFileDelete, &FileJobMessage{
		JobID:  uuid.NewString(),
		UserID: userID,
		FileID: fileID,
	})
}

func (p *Producer) publishFileJob(ctx context.Context, msgType string, job *FileJobMessage) (string, error) {
	msg, err := NewMessage(job.JobID, msgType, job.UserID, job.FileID, job)
	if err != nil {
		return "", err
	}
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok && reqID != "" {
		msg.SetMetadata("request_id", reqID)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.SetMetadata("trace_id", sc.TraceID().String())
	}

	if _, err := p.Publish(ctx, StreamFileJobs, msg); err != nil {
		return "", err
	}
	return job.JobID, nil
}
