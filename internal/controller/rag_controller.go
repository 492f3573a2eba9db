package controller

import (
	"errors"

	"rag-chat-be/internal/dto"
	"rag-chat-be/internal/pkg/serverutils"
	"rag-chat-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IRagController interface {
	RegisterRoutes(r fiber.Router)
	Query(ctx *fiber.Ctx) error
	IndexStats(ctx *fiber.Ctx) error
	ResetIndex(ctx *fiber.Ctx) error
	UploadDocument(ctx *fiber.Ctx) error
	GetDocuments(ctx *fiber.Ctx) error
	ShowDocument(ctx *fiber.Ctx) error
}

type ragController struct {
	queryService  service.IQueryService
	indexService  service.IIndexService
	uploadService service.IUploadService
}

func NewRagController(queryService service.IQueryService, indexService service.IIndexService, uploadService service.IUploadService) IRagController {
	return &ragController{
		queryService:  queryService,
		indexService:  indexService,
		uploadService: uploadService,
	}
}

func (c *ragController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/rag/v1")
	h.Post("query", c.Query)
	h.Get("index", c.IndexStats)
	h.Delete("index", c.ResetIndex)
	h.Post("documents", c.UploadDocument)
	h.Get("documents", c.GetDocuments)
	h.Get("documents/:id", c.ShowDocument)
}

// Query answers a single question against the knowledge index, without a session.
func (c *ragController) Query(ctx *fiber.Ctx) error {
	var req dto.QueryRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.queryService.Ask(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success answer query", res))
}

func (c *ragController) IndexStats(ctx *fiber.Ctx) error {
	res, err := c.indexService.Stats(ctx.UserContext())
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get index stats", res))
}

// ResetIndex waits for in-flight queries, then wipes every indexed chunk.
func (c *ragController) ResetIndex(ctx *fiber.Ctx) error {
	if err := c.indexService.Reset(ctx.UserContext()); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Knowledge index cleared", nil))
}

func (c *ragController) UploadDocument(ctx *fiber.Ctx) error {
	file, err := ctx.FormFile("file")
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "File is required"))
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	res, err := c.uploadService.Enqueue(ctx.UserContext(), file.Filename, file.Header.Get("Content-Type"), src)
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedFile) {
			return ctx.Status(fiber.StatusUnsupportedMediaType).JSON(serverutils.ErrorResponse(415, err.Error()))
		}
		return err
	}

	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Document queued for indexing", res))
}

func (c *ragController) GetDocuments(ctx *fiber.Ctx) error {
	req := dto.ListDocumentsRequest{
		SessionKey: ctx.Query("session_key"),
		Status:     ctx.Query("status"),
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.uploadService.GetAll(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get all documents", res))
}

func (c *ragController) ShowDocument(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid document ID"))
	}

	res, err := c.uploadService.Show(ctx.UserContext(), id)
	if err != nil {
		if errors.Is(err, service.ErrUploadNotFound) {
			return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(404, err.Error()))
		}
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show document", res))
}
