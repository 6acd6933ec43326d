// Package stream は進捗HubをWebSocketで外部へ公開します。
package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yourusername/page-forge/internal/convert"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1024
)

// clientMessage はクライアントから受信するメッセージです。
// liveness 応答（pong）以外の種別は無視します。
type clientMessage struct {
	Type string `json:"type"`
}

// Handler はWebSocket接続を進捗Hubの購読へ橋渡しします。
type Handler struct {
	hub      *convert.Hub
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewHandler はHandlerを作成します。originsが空の場合は全オリジンを許可します。
func NewHandler(hub *convert.Hub, origins []string, logger *log.Logger) *Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
		logger: logger,
	}
}

// Progress はドキュメント進捗ストリームのWebSocketハンドラーです。
func (h *Handler) Progress() gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("documentId")
		if documentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    convert.CodeInvalidInput,
				"message": "ドキュメントIDを指定してください。",
			})
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade がエラーレスポンスを書き込み済み。
			h.logf("websocket upgrade failed for document %s: %v", documentID, err)
			return
		}

		sub := h.hub.Subscribe(documentID)
		go h.readPump(conn, sub)
		h.writePump(conn, sub)
	}
}

// readPump はクライアントからの liveness 応答を処理します。
// 読み取りエラーで購読を解除し、writePump も連鎖的に終了します。
func (h *Handler) readPump(conn *websocket.Conn, sub *convert.Subscription) {
	defer h.hub.Unsubscribe(sub)
	conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logf("websocket read error for document %s: %v", sub.DocumentID, err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == string(convert.EventPong) {
			h.hub.Touch(sub)
		}
	}
}

// writePump はHubから配送されるイベントをJSONで書き込みます。
// Hub がチャネルをクローズしたら接続も閉じます。
func (h *Handler) writePump(conn *websocket.Conn, sub *convert.Subscription) {
	defer conn.Close()

	for ev := range sub.Events() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			h.hub.Unsubscribe(sub)
			return
		}
	}

	// 購読破棄（staleタイムアウトなど）によるクローズ。
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Handler) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}
