package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ragdesk-go/internal/config"
	"ragdesk-go/internal/model"
	"ragdesk-go/internal/repository"
	"ragdesk-go/pkg/llm"
	"ragdesk-go/pkg/log"
)

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	StreamResponse(ctx context.Context, query string, userID uint, ws llm.MessageWriter, shouldStop func() bool) error
}

type chatService struct {
	searchService    SearchService
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
	prompt           config.LLMPromptConfig
	contextLimit     int
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(searchService SearchService, llmClient llm.Client, conversationRepo repository.ConversationRepository, prompt config.LLMPromptConfig, contextLimit int) ChatService {
	if contextLimit <= 0 {
		contextLimit = 10
	}
	return &chatService{
		searchService:    searchService,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
		prompt:           prompt,
		contextLimit:     contextLimit,
	}
}

// StreamResponse 协调 RAG 流程并流式传输 LLM 响应。
func (s *chatService) StreamResponse(ctx context.Context, query string, userID uint, ws llm.MessageWriter, shouldStop func() bool) error {
	// 1. 检索上下文
	results, err := s.searchService.Search(ctx, userID, query, nil, s.contextLimit)
	if err != nil {
		return fmt.Errorf("failed to retrieve context: %w", err)
	}

	// 2. 构建上下文与 system 消息、历史
	systemMsg := s.buildSystemMessage(buildContextText(results))
	convID, history, err := s.loadHistory(ctx, userID)
	if err != nil {
		log.Errorf("Failed to load conversation history: %v", err)
		history = []model.ChatMessage{}
	}
	messages := composeMessages(systemMsg, history, query)

	// 拦截 writer 以捕获完整答案，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}

	// 3. 流式调用 LLM，生成参数取配置
	llmMsgs := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		llmMsgs = append(llmMsgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	if err := s.llmClient.StreamChatMessages(ctx, llmMsgs, nil, interceptor); err != nil {
		return err
	}

	// 4. 发送完成通知并保存对话
	sendCompletion(ws)
	fullAnswer := answerBuilder.String()
	if len(fullAnswer) > 0 {
		// 即使原始请求被取消，也保存已生成的答案
		if err := s.saveExchange(context.Background(), userID, convID, query, fullAnswer, len(results)); err != nil {
			log.Errorf("Failed to save conversation history: %v", err)
		}
	}
	return nil
}

func buildContextText(results []model.SearchResultDTO) string {
	if len(results) == 0 {
		return ""
	}
	// 与默认 chunk_size 对齐，尽量不截断分块内容
	const maxSnippetLen = 1000
	var b strings.Builder
	for i, r := range results {
		snippet := r.Content
		if runes := []rune(snippet); len(runes) > maxSnippetLen {
			snippet = string(runes[:maxSnippetLen]) + "…"
		}
		label := r.DocumentTitle
		if label == "" {
			label = "unknown"
		}
		b.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, label, snippet))
	}
	return b.String()
}

func (s *chatService) buildSystemMessage(contextText string) string {
	refStart := s.prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}
	var sys strings.Builder
	if s.prompt.Rules != "" {
		sys.WriteString(s.prompt.Rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		noRes := s.prompt.NoResultText
		if noRes == "" {
			noRes = "（本轮无检索结果）"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (s *chatService) loadHistory(ctx context.Context, userID uint) (string, []model.ChatMessage, error) {
	convID, err := s.conversationRepo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	history, err := s.conversationRepo.GetConversationHistory(ctx, convID)
	return convID, history, err
}

func composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, model.ChatMessage{Role: "system", Content: systemMsg})
	msgs = append(msgs, history...)
	msgs = append(msgs, model.ChatMessage{Role: "user", Content: userInput})
	return msgs
}

// saveExchange 把问答写入 conversations 表，并追加到 Redis 中的上下文。
func (s *chatService) saveExchange(ctx context.Context, userID uint, convID, question, answer string, refs int) error {
	if convID == "" {
		id, err := s.conversationRepo.GetOrCreateConversationID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to get or create conversation ID: %w", err)
		}
		convID = id
	}

	if err := s.conversationRepo.SaveExchange(ctx, &model.Conversation{
		ConversationID: convID,
		UserID:         userID,
		Question:       question,
		Answer:         answer,
		ReferenceCount: refs,
	}); err != nil {
		return fmt.Errorf("failed to persist conversation: %w", err)
	}

	history, err := s.conversationRepo.GetConversationHistory(ctx, convID)
	if err != nil {
		return fmt.Errorf("failed to get conversation history: %w", err)
	}
	now := time.Now()
	history = append(history,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	return s.conversationRepo.UpdateConversationHistory(ctx, convID, history)
}

// wsWriterInterceptor 捕获写入的分块并包装成 {"chunk":"..."}。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	b, _ := json.Marshal(map[string]string{"chunk": string(data)})
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws llm.MessageWriter) {
	now := time.Now()
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
