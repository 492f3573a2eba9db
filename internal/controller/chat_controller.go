package controller

import (
	"rag-chat-be/internal/dto"
	"rag-chat-be/internal/pkg/serverutils"
	"rag-chat-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

const defaultHistoryLimit = 100

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	GetHistory(ctx *fiber.Ctx) error
	ClearHistory(ctx *fiber.Ctx) error
}

type chatController struct {
	service service.IChatHistoryService
}

func NewChatController(service service.IChatHistoryService) IChatController {
	return &chatController{service: service}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chat/v1")
	h.Get("sessions/:sessionKey/history", c.GetHistory)
	h.Delete("sessions/:sessionKey/history", c.ClearHistory)
}

// GetHistory returns the most recent messages of a session, oldest first.
func (c *chatController) GetHistory(ctx *fiber.Ctx) error {
	req := dto.GetChatHistoryRequest{
		SessionKey: ctx.Params("sessionKey"),
		Limit:      ctx.QueryInt("limit", defaultHistoryLimit),
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.GetHistory(ctx.UserContext(), req.SessionKey, req.Limit)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get chat history", res))
}

func (c *chatController) ClearHistory(ctx *fiber.Ctx) error {
	if err := c.service.ClearHistory(ctx.UserContext(), ctx.Params("sessionKey")); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Chat history cleared", nil))
}
