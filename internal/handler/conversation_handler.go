package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ragdesk-go/internal/service"
)

// ConversationHandler 处理与对话记录相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// Current 返回当前会话的上下文消息。
func (h *ConversationHandler) Current(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	id, history, err := h.service.CurrentHistory(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, "CurrentConversation", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"conversation_id": id, "messages": history})
}

// List 返回用户保存过的全部问答。
func (h *ConversationHandler) List(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		return
	}
	exchanges, err := h.service.ListExchanges(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, "ListConversations", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"conversations": exchanges})
}
