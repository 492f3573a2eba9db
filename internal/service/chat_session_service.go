// FILE: internal/service/chat_session_service.go
package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rag-chat-be/internal/constant"
	"rag-chat-be/internal/dto"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/internal/session"
	"rag-chat-be/pkg/rag/knowledge"
	"rag-chat-be/pkg/rag/pipeline"
	"rag-chat-be/pkg/rwlock"

	"github.com/google/uuid"
)

const msgInternalError = "⚠️ Internal error occurred."

// IChatSessionService drives one websocket session. Events of a session are
// handled one at a time by the caller; different sessions run in parallel.
type IChatSessionService interface {
	Connect(sessionKey string, conn session.Conn)
	// HandleEvent returns an error only when the transport failed and the
	// connection should be dropped.
	HandleEvent(ctx context.Context, sessionKey string, raw []byte) error
	Disconnect(sessionKey string, conn session.Conn)
}

type chatSessionService struct {
	registry  *session.Registry
	notifier  pipeline.Notifier
	lock      *rwlock.PriorityLock
	index     knowledge.Index
	pipeline  *pipeline.Pipeline
	history   IChatHistoryService
	uploads   IUploadService
	uploadDir string
	logger    logger.ILogger
	now       func() time.Time
}

func NewChatSessionService(
	registry *session.Registry,
	notifier pipeline.Notifier,
	lock *rwlock.PriorityLock,
	index knowledge.Index,
	chatPipeline *pipeline.Pipeline,
	history IChatHistoryService,
	uploads IUploadService,
	uploadDir string,
	log logger.ILogger,
) IChatSessionService {
	return &chatSessionService{
		registry:  registry,
		notifier:  notifier,
		lock:      lock,
		index:     index,
		pipeline:  chatPipeline,
		history:   history,
		uploads:   uploads,
		uploadDir: uploadDir,
		logger:    log,
		now:       time.Now,
	}
}

func (s *chatSessionService) Connect(sessionKey string, conn session.Conn) {
	if prev := s.registry.Register(sessionKey, conn); prev != nil {
		s.logger.Info("SESSION", "Replacing existing connection", map[string]interface{}{"session_key": sessionKey})
		if err := prev.Close(); err != nil {
			s.logger.Debug("SESSION", "Close of superseded connection failed", map[string]interface{}{"session_key": sessionKey, "error": err.Error()})
		}
	}
	s.logger.Info("SESSION", "Session connected", map[string]interface{}{"session_key": sessionKey, "active": s.registry.Len()})
}

func (s *chatSessionService) Disconnect(sessionKey string, conn session.Conn) {
	if s.registry.RemoveConn(sessionKey, conn) {
		s.logger.Info("SESSION", "Session disconnected", map[string]interface{}{"session_key": sessionKey, "active": s.registry.Len()})
	}
}

func (s *chatSessionService) HandleEvent(ctx context.Context, sessionKey string, raw []byte) error {
	s.registry.Touch(sessionKey)

	ev := parseEvent(raw)
	if ev.Type == constant.EventTypeFileUpload {
		return s.handleUpload(ctx, sessionKey, ev)
	}
	return s.handleMessage(ctx, sessionKey, ev.Text)
}

// parseEvent classifies a raw frame. Anything that is not a recognised JSON
// event is treated as chat text, verbatim.
func parseEvent(raw []byte) dto.InboundEvent {
	text := dto.InboundEvent{Type: constant.EventTypeMessage, Text: string(raw)}

	var ev dto.InboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return text
	}
	switch ev.Type {
	case constant.EventTypeFileUpload:
		return ev
	case constant.EventTypeMessage:
		if ev.Text != "" {
			return ev
		}
	}
	return text
}

func (s *chatSessionService) handleMessage(ctx context.Context, sessionKey, text string) error {
	if err := s.history.AppendMessage(ctx, sessionKey, constant.ChatRoleUser, text, s.now().UTC()); err != nil {
		s.logger.Error("SESSION", "Failed to persist user message", map[string]interface{}{"session_key": sessionKey, "error": err.Error()})
	}

	return s.send(sessionKey, s.runPipeline(ctx, sessionKey, text))
}

func (s *chatSessionService) runPipeline(ctx context.Context, sessionKey, text string) (output string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("SESSION", "Pipeline panicked", map[string]interface{}{"session_key": sessionKey, "panic": fmt.Sprint(r)})
			output = msgInternalError
		}
	}()

	st := s.pipeline.Run(ctx, pipeline.NewState(sessionKey, text))
	for _, err := range st.Errors {
		s.logger.Debug("SESSION", "Pipeline degraded", map[string]interface{}{"session_key": sessionKey, "error": err.Error()})
	}
	return st.Output
}

func (s *chatSessionService) handleUpload(ctx context.Context, sessionKey string, ev dto.InboundEvent) error {
	filename := SafeFilename(ev.Filename)

	dir, err := os.MkdirTemp(s.uploadDir, "session-upload-*")
	if err != nil {
		return s.uploadFailed(ctx, sessionKey, filename, uuid.Nil, err)
	}
	defer os.RemoveAll(dir)

	data, err := base64.StdEncoding.DecodeString(ev.Data)
	if err != nil {
		return s.uploadFailed(ctx, sessionKey, filename, uuid.Nil, fmt.Errorf("decode upload: %w", err))
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return s.uploadFailed(ctx, sessionKey, filename, uuid.Nil, err)
	}

	uploadID, err := s.uploads.Track(ctx, sessionKey, filename, mime.TypeByExtension(filepath.Ext(filename)), int64(len(data)))
	if err != nil {
		s.logger.Warn("SESSION", "Upload not tracked", map[string]interface{}{"session_key": sessionKey, "error": err.Error()})
	}

	s.notify(sessionKey, fmt.Sprintf(constant.NoticeUploadReceived, filename))

	err = s.lock.WithWrite(ctx, func(ctx context.Context) error {
		return s.index.RebuildOrExtend(ctx, []string{path})
	})
	if err != nil {
		return s.uploadFailed(ctx, sessionKey, filename, uploadID, err)
	}
	s.notify(sessionKey, fmt.Sprintf(constant.NoticeKnowledgeUpdated, filename))

	st := s.pipeline.Summarize(ctx, pipeline.NewState(sessionKey, "Summarize "+filename))
	summary := strings.TrimSpace(st.Summary)
	if summary == "" {
		summary = constant.UploadSummaryMissing
	}

	if err := s.uploads.Finish(ctx, uploadID, nil, map[string]any{"summary": summary}); err != nil {
		s.logger.Warn("SESSION", "Failed to update upload status", map[string]interface{}{"upload_id": uploadID, "error": err.Error()})
	}
	if err := s.history.AppendMessage(ctx, sessionKey, constant.ChatRoleBot, constant.UploadSummaryPrefix+summary, s.now().UTC()); err != nil {
		s.logger.Error("SESSION", "Failed to persist upload summary", map[string]interface{}{"session_key": sessionKey, "error": err.Error()})
	}

	s.logger.Info("SESSION", "Upload indexed", map[string]interface{}{"session_key": sessionKey, "filename": filename, "bytes": len(data)})
	return s.send(sessionKey, fmt.Sprintf(constant.NoticeUploadSummary, filename, summary))
}

// uploadFailed reports the failure to the session. It never ends the connection.
func (s *chatSessionService) uploadFailed(ctx context.Context, sessionKey, filename string, uploadID uuid.UUID, cause error) error {
	s.logger.Error("SESSION", "Upload failed", map[string]interface{}{
		"session_key": sessionKey,
		"filename":    filename,
		"error":       cause.Error(),
	})
	if err := s.uploads.Finish(ctx, uploadID, cause, nil); err != nil {
		s.logger.Warn("SESSION", "Failed to update upload status", map[string]interface{}{"upload_id": uploadID, "error": err.Error()})
	}
	s.notify(sessionKey, fmt.Sprintf(constant.NoticeUploadFailed, filename, cause))
	return nil
}

// send delivers a final reply. A failure here is a transport failure.
func (s *chatSessionService) send(sessionKey, text string) error {
	if err := s.notifier.Notify(sessionKey, text); err != nil {
		if errors.Is(err, pipeline.ErrTransport) {
			return err
		}
		return fmt.Errorf("%w: %w", pipeline.ErrTransport, err)
	}
	return nil
}

// notify is best effort.
func (s *chatSessionService) notify(sessionKey, text string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("SESSION", "Notifier panicked", map[string]interface{}{"session_key": sessionKey, "panic": fmt.Sprint(r)})
		}
	}()
	if err := s.notifier.Notify(sessionKey, text); err != nil {
		s.logger.Debug("SESSION", "Notification dropped", map[string]interface{}{"session_key": sessionKey, "error": err.Error()})
	}
}
