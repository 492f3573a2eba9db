package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"rag-chat-be/internal/constant"
	"rag-chat-be/internal/dto"
	"rag-chat-be/internal/entity"
	"rag-chat-be/internal/pkg/logger"
	"rag-chat-be/internal/repository/specification"
	"rag-chat-be/internal/repository/unitofwork"
	"rag-chat-be/pkg/rag/knowledge"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrUploadNotFound  = errors.New("upload not found")
)

type IUploadService interface {
	// Track records a new upload as PROCESSING and returns its id.
	Track(ctx context.Context, sessionKey, filename, contentType string, size int64) (uuid.UUID, error)
	// Finish moves an upload to INDEXED, or FAILED when indexErr is set.
	Finish(ctx context.Context, id uuid.UUID, indexErr error, meta map[string]any) error
	// Enqueue stores a file for the ingestion worker and publishes the job.
	Enqueue(ctx context.Context, filename, contentType string, content io.Reader) (*dto.UploadDocumentResponse, error)
	GetAll(ctx context.Context, req *dto.ListDocumentsRequest) ([]*dto.UploadedFileResponse, error)
	Show(ctx context.Context, id uuid.UUID) (*dto.UploadedFileResponse, error)
}

type uploadService struct {
	uowFactory       unitofwork.RepositoryFactory
	publisherService IPublisherService
	uploadDir        string
	logger           logger.ILogger
}

func NewUploadService(
	uowFactory unitofwork.RepositoryFactory,
	publisherService IPublisherService,
	uploadDir string,
	log logger.ILogger,
) IUploadService {
	return &uploadService{
		uowFactory:       uowFactory,
		publisherService: publisherService,
		uploadDir:        uploadDir,
		logger:           log,
	}
}

func (s *uploadService) Track(ctx context.Context, sessionKey, filename, contentType string, size int64) (uuid.UUID, error) {
	record := &entity.UploadedFile{
		Id:          uuid.New(),
		SessionKey:  sessionKey,
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		Status:      constant.UploadStatusProcessing,
	}
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.UploadedFileRepository().Create(ctx, record); err != nil {
		return uuid.Nil, fmt.Errorf("track upload %s: %w", filename, err)
	}
	return record.Id, nil
}

func (s *uploadService) Finish(ctx context.Context, id uuid.UUID, indexErr error, meta map[string]any) error {
	if id == uuid.Nil {
		return nil
	}
	status := constant.UploadStatusIndexed
	if indexErr != nil {
		status = constant.UploadStatusFailed
		if meta == nil {
			meta = map[string]any{}
		}
		meta["error"] = indexErr.Error()
	}
	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.UploadedFileRepository().UpdateStatus(ctx, id, status, meta)
}

func (s *uploadService) Enqueue(ctx context.Context, filename, contentType string, content io.Reader) (*dto.UploadDocumentResponse, error) {
	name := SafeFilename(filename)
	if !knowledge.IsSupported(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(name))
	}

	dir, err := os.MkdirTemp(s.uploadDir, "ingest-*")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)

	size, err := writeFile(path, content)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	id, err := s.Track(ctx, "", name, contentType, size)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	err = s.publisherService.PublishIngest(ctx, &dto.IngestDocumentMessage{
		UploadId: id,
		Path:     path,
		Dir:      dir,
		Filename: name,
	})
	if err != nil {
		os.RemoveAll(dir)
		if ferr := s.Finish(ctx, id, err, nil); ferr != nil {
			s.logger.Error("UPLOAD", "Failed to mark upload as failed", map[string]interface{}{"upload_id": id, "error": ferr.Error()})
		}
		return nil, err
	}

	s.logger.Info("UPLOAD", "Document queued for ingestion", map[string]interface{}{
		"upload_id": id,
		"filename":  name,
		"size":      size,
	})

	return &dto.UploadDocumentResponse{
		Id:       id,
		Filename: name,
		Status:   constant.UploadStatusProcessing,
	}, nil
}

func (s *uploadService) GetAll(ctx context.Context, req *dto.ListDocumentsRequest) ([]*dto.UploadedFileResponse, error) {
	specs := []specification.Specification{
		specification.OrderBy{Field: "created_at", Desc: true},
	}
	if req.SessionKey != "" {
		specs = append(specs, specification.BySessionKey{SessionKey: req.SessionKey})
	}
	if req.Status != "" {
		specs = append(specs, specification.ByStatus{Status: req.Status})
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	files, err := uow.UploadedFileRepository().FindAll(ctx, specs...)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.UploadedFileResponse, 0, len(files))
	for _, f := range files {
		res = append(res, toUploadedFileResponse(f))
	}
	return res, nil
}

func (s *uploadService) Show(ctx context.Context, id uuid.UUID) (*dto.UploadedFileResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	file, err := uow.UploadedFileRepository().FindOne(ctx, specification.ByID{ID: id})
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, ErrUploadNotFound
	}
	return toUploadedFileResponse(file), nil
}

func toUploadedFileResponse(f *entity.UploadedFile) *dto.UploadedFileResponse {
	return &dto.UploadedFileResponse{
		Id:         f.Id,
		SessionKey: f.SessionKey,
		Filename:   f.Filename,
		Size:       f.Size,
		Status:     f.Status,
		Meta:       f.Meta,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
	}
}

// SafeFilename strips any directory part a client may have sent.
func SafeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return "upload.txt"
	}
	return name
}

func writeFile(path string, content io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}
