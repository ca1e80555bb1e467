package handler

import (
	"context"
	"net/http"

	"marketplace-chat/internal/chat"
	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ChatService is the part of the chat manager the gateway drives.
type ChatService interface {
	Snapshot() chat.Snapshot
	RefreshConversations(ctx context.Context) error
	SelectByID(ctx context.Context, id uuid.UUID) error
	Select(ctx context.Context, conv *domain.Conversation) error
	LoadMore(ctx context.Context) error
	Send(ctx context.Context, text string) error
	ShareListing(ctx context.Context, listingID uuid.UUID, text string) error
	StartConversation(ctx context.Context, listingID uuid.UUID) (domain.Conversation, error)
}

type ChatHandler struct {
	service ChatService
}

func NewChatHandler(service ChatService) *ChatHandler {
	return &ChatHandler{service: service}
}

func (h *ChatHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(stateResponse(h.service.Snapshot())))
}

func (h *ChatHandler) Refresh(c *gin.Context) {
	if err := h.service.RefreshConversations(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(stateResponse(h.service.Snapshot())))
}

func (h *ChatHandler) Select(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid conversation id", "INVALID_REQUEST"))
		return
	}
	if err := h.service.SelectByID(c.Request.Context(), conversationID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(stateResponse(h.service.Snapshot())))
}

func (h *ChatHandler) ClearActive(c *gin.Context) {
	if err := h.service.Select(c.Request.Context(), nil); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) LoadMore(c *gin.Context) {
	if err := h.service.LoadMore(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(stateResponse(h.service.Snapshot())))
}

func (h *ChatHandler) Send(c *gin.Context) {
	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}

	ctx := c.Request.Context()
	if req.SharedListingID != "" {
		listingID, err := uuid.Parse(req.SharedListingID)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid listing id", "INVALID_REQUEST"))
			return
		}
		err = h.service.ShareListing(ctx, listingID, req.Content)
		if err != nil {
			_ = c.Error(err)
			return
		}
	} else if err := h.service.Send(ctx, req.Content); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *ChatHandler) Start(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("listingId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid listing id", "INVALID_REQUEST"))
		return
	}
	conv, err := h.service.StartConversation(c.Request.Context(), listingID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(conv))
}

func stateResponse(s chat.Snapshot) httpdto.ChatStateResponse {
	out := httpdto.ChatStateResponse{
		Connection:    s.Connection.String(),
		Conversations: s.Conversations,
		Active:        s.Active,
		Messages:      s.Messages,
		HasMore:       s.HasMore,
		Loading:       s.Loading,
	}
	if s.SelfID != uuid.Nil {
		out.SelfID = s.SelfID.String()
	}
	if out.Conversations == nil {
		out.Conversations = []domain.Conversation{}
	}
	if out.Messages == nil {
		out.Messages = []domain.ChatMessage{}
	}
	return out
}
