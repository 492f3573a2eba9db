package mapper

import (
	"time"

	"rag-chat-be/internal/entity"
	"rag-chat-be/internal/model"
)

type UploadedFileMapper struct{}

func NewUploadedFileMapper() *UploadedFileMapper {
	return &UploadedFileMapper{}
}

func (m *UploadedFileMapper) ToEntity(f *model.UploadedFile) *entity.UploadedFile {
	if f == nil {
		return nil
	}

	var updatedAt *time.Time
	if !f.UpdatedAt.IsZero() {
		t := f.UpdatedAt
		updatedAt = &t
	}

	return &entity.UploadedFile{
		Id:          f.Id,
		SessionKey:  f.SessionKey,
		Filename:    f.Filename,
		ContentType: f.ContentType,
		Size:        f.Size,
		Status:      f.Status,
		Meta:        metaFromJSON(f.Meta),
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   updatedAt,
	}
}

func (m *UploadedFileMapper) ToModel(f *entity.UploadedFile) *model.UploadedFile {
	if f == nil {
		return nil
	}

	var updatedAt time.Time
	if f.UpdatedAt != nil {
		updatedAt = *f.UpdatedAt
	}

	return &model.UploadedFile{
		Id:          f.Id,
		SessionKey:  f.SessionKey,
		Filename:    f.Filename,
		ContentType: f.ContentType,
		Size:        f.Size,
		Status:      f.Status,
		Meta:        metaToJSON(f.Meta),
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   updatedAt,
	}
}
