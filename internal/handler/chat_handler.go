package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ragdesk-go/internal/service"
	"ragdesk-go/pkg/log"
	"ragdesk-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService    service.ChatService
	profileService service.ProfileService
	jwtManager     *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, profileService service.ProfileService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{chatService: chatService, profileService: profileService, jwtManager: jwtManager}
}

// lockedConn 串行化对同一连接的写操作。
type lockedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (l *lockedConn) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(messageType, data)
}

func (l *lockedConn) writeJSON(v any) {
	b, _ := json.Marshal(v)
	_ = l.WriteMessage(websocket.TextMessage, b)
}

// Handle 处理一个传入的 WebSocket 连接，token 通过路径传入。
// 客户端发送 {"type":"stop"} 可中断当前回答，其余消息都视为问题。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的 token"})
		return
	}
	if err := h.profileService.Ensure(c.Request.Context(), claims); err != nil {
		log.Warnf("[Chat] 更新用户档案失败, userID: %d, err: %v", claims.UserID, err)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	out := &lockedConn{conn: conn}
	var stop atomic.Bool
	questions := make(chan string, 8)

	// 读循环：停止指令立即生效，问题排队等待当前回答结束
	go func() {
		defer close(questions)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
				return
			}
			if isStopCommand(message) {
				stop.Store(true)
				now := time.Now()
				out.writeJSON(map[string]any{
					"type":      "stop",
					"message":   "响应已停止",
					"timestamp": now.UnixMilli(),
					"date":      now.Format("2006-01-02T15:04:05"),
				})
				continue
			}
			select {
			case questions <- string(message):
			default:
				out.writeJSON(map[string]string{"error": "上一个问题尚未回答完毕"})
			}
		}
	}()

	for q := range questions {
		stop.Store(false)
		log.Infof("收到 WebSocket 消息: %s", q)
		if err := h.chatService.StreamResponse(c.Request.Context(), q, claims.UserID, out, stop.Load); err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			out.writeJSON(map[string]string{"error": "AI服务暂时不可用，请稍后重试"})
			now := time.Now()
			// 出错时也发送 completion 通知
			out.writeJSON(map[string]any{
				"type":      "completion",
				"status":    "finished",
				"message":   "响应已完成",
				"timestamp": now.UnixMilli(),
				"date":      now.Format("2006-01-02T15:04:05"),
			})
		}
	}
}

func isStopCommand(message []byte) bool {
	if len(message) == 0 || message[0] != '{' {
		return false
	}
	var ctrl struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(message, &ctrl) == nil && ctrl.Type == "stop"
}
