// Package websocket 提供新邮件到达的实时推送通道。
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
)

// SessionVerifier 验证令牌对邮箱地址的所有权。
type SessionVerifier interface {
	VerifyOwnership(address, token string) (*domain.Session, error)
}

// MessageType 定义 WebSocket 消息类型
type MessageType string

const (
	MessageTypeNewMail MessageType = "new_mail"
	MessageTypePing    MessageType = "ping"
	MessageTypePong    MessageType = "pong"
	MessageTypeError   MessageType = "error"
)

// Message 定义 WebSocket 消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Address   string          `json:"address,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMailData 新邮件通知数据
type NewMailData struct {
	MessageID  string `json:"id"`
	Address    string `json:"address"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	Preview    string `json:"preview,omitempty"`
	ReceivedAt string `json:"receivedAt"`
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 没有 Origin 视为同源请求
				return true
			}
			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// Client 代表一个已认证的 WebSocket 客户端连接。
//
// 每个连接绑定到一个邮箱地址，只接收该地址的新邮件通知。
type Client struct {
	ID      string
	Address string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	log     *zap.Logger
}

// Hub 管理所有 WebSocket 连接，按邮箱地址索引订阅者。
type Hub struct {
	clients    map[string]*Client            // clientID -> Client
	addresses  map[string]map[string]*Client // address -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{} // Run 退出时关闭，解除读写泵对注册通道的阻塞

	verifier SessionVerifier
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu sync.RWMutex
}

// NewHub 创建 WebSocket Hub。
func NewHub(allowedOrigins []string, verifier SessionVerifier, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Hub{
		clients:    make(map[string]*Client),
		addresses:  make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
		verifier:   verifier,
		upgrader:   upgraderFactory(allowedOrigins),
		log:        log,
	}
}

// Run 启动 Hub 主循环，随 ctx 取消而停止并关闭所有连接。
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			close(h.done)
			h.closeAllClients()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			subs, ok := h.addresses[client.Address]
			if !ok {
				subs = make(map[string]*Client)
				h.addresses[client.Address] = subs
			}
			subs[client.ID] = client
			h.mu.Unlock()
			h.log.Info("websocket client registered",
				zap.String("id", client.ID),
				zap.String("address", client.Address),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				if subs, exists := h.addresses[client.Address]; exists {
					delete(subs, client.ID)
					if len(subs) == 0 {
						delete(h.addresses, client.Address)
					}
				}
				delete(h.clients, client.ID)
				close(client.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

// NotifyNewMail 向地址的全部订阅者推送新邮件通知。
//
// 实现 spool.Notifier；没有订阅者时消息被丢弃，邮件本身已入库。
func (h *Hub) NotifyNewMail(address string, message *domain.Message) {
	preview := message.Body
	if len(preview) > 100 {
		preview = preview[:100]
	}

	data, err := json.Marshal(NewMailData{
		MessageID:  message.MessageID,
		Address:    address,
		From:       message.Sender,
		Subject:    message.Subject,
		Preview:    preview,
		ReceivedAt: message.ReceivedAt.Format(time.RFC3339),
	})
	if err != nil {
		h.log.Error("failed to marshal new mail data", zap.Error(err))
		return
	}

	msg := &Message{
		Type:      MessageTypeNewMail,
		Address:   address,
		Data:      data,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("websocket broadcast queue full, dropping notification",
			zap.String("address", address),
		)
	}
}

// deliver 把消息投递给地址下的所有订阅者。
func (h *Hub) deliver(msg *Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal websocket message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.addresses[msg.Address] {
		select {
		case client.send <- payload:
		default:
			// 发送缓冲已满的慢客户端直接跳过
			h.log.Warn("websocket client send buffer full",
				zap.String("id", client.ID),
			)
		}
	}
}

// pingAllClients 向所有客户端发送应用层 ping。
func (h *Hub) pingAllClients() {
	payload, err := json.Marshal(&Message{
		Type:      MessageTypePing,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- payload:
		default:
		}
	}
}

// closeAllClients 关闭所有连接。
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[string]*Client)
	h.addresses = make(map[string]map[string]*Client)
}

// HandleWebSocket 返回处理 WebSocket 升级请求的 gin 处理器。
//
// 客户端通过查询参数 address 与 token 完成认证，认证失败返回 403，
// 不区分地址不存在与令牌错误。
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		address := c.Query("address")
		token := c.Query("token")

		sess, err := hub.verifier.VerifyOwnership(address, token)
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{
				"code": http.StatusForbidden,
				"msg":  "无权访问该邮箱",
			})
			return
		}

		conn, err := hub.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:      uuid.NewString(),
			Address: sess.Address,
			conn:    conn,
			send:    make(chan []byte, 64),
			hub:     hub,
			log:     hub.log,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}
		go client.writePump()
		go client.readPump()
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// detach 把客户端从 Hub 注销；Hub 已停止时直接返回，不会阻塞。
func (c *Client) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readPump 读取客户端消息，只响应应用层 ping。
func (c *Client) readPump() {
	defer func() {
		c.detach()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypePing {
			pong, _ := json.Marshal(&Message{Type: MessageTypePong, Timestamp: time.Now()})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

// writePump 把 send 通道中的消息写入连接，并维持协议层心跳。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
