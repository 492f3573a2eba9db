// FILE: internal/service/consumer_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"rag-chat-be/internal/dto"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/pkg/rag/knowledge"
	"rag-chat-be/pkg/rwlock"

	"github.com/ThreeDotsLabs/watermill/message"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService indexes documents queued through the REST upload endpoint.
type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	index      knowledge.Index
	lock       *rwlock.PriorityLock
	uploads    IUploadService
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	index knowledge.Index,
	lock *rwlock.PriorityLock,
	uploads IUploadService,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		index:      index,
		lock:       lock,
		uploads:    uploads,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var payload dto.IngestDocumentMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Error("INGEST", "Failed to unmarshal message", map[string]interface{}{"message_id": msg.UUID, "error": err.Error()})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	cs.logger.Info("INGEST", "Indexing queued document", map[string]interface{}{
		"upload_id": payload.UploadId,
		"filename":  payload.Filename,
	})

	// Only a lock wait interrupted by shutdown is retried.
	var buildErr error
	if err := cs.lock.WithWrite(ctx, func(ctx context.Context) error {
		buildErr = cs.rebuild(ctx, payload.Path)
		return nil
	}); err != nil {
		cs.logger.Warn("INGEST", "Write lock not acquired, requeueing", map[string]interface{}{"upload_id": payload.UploadId, "error": err.Error()})
		msg.Nack()
		return
	}

	if buildErr != nil {
		cs.logger.Error("INGEST", "Failed to index document", map[string]interface{}{"upload_id": payload.UploadId, "error": buildErr.Error()})
	}
	if err := cs.uploads.Finish(ctx, payload.UploadId, buildErr, nil); err != nil {
		cs.logger.Error("INGEST", "Failed to update upload status", map[string]interface{}{"upload_id": payload.UploadId, "error": err.Error()})
	}
	if payload.Dir != "" {
		os.RemoveAll(payload.Dir)
	}

	if buildErr == nil {
		cs.logger.Info("INGEST", "Document indexed", map[string]interface{}{"upload_id": payload.UploadId, "filename": payload.Filename})
	}
	msg.Ack()
}

// rebuild reports a panic in the index as a failed build.
func (cs *consumerService) rebuild(ctx context.Context, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("index panicked: %v", r)
		}
	}()
	return cs.index.RebuildOrExtend(ctx, []string{path})
}
