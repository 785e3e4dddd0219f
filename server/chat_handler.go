package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/leebenson/conform"
	"github.com/pkg/errors"
	"github.com/techagentng/clarkmarket/models"
	"github.com/techagentng/clarkmarket/server/response"
	"github.com/techagentng/clarkmarket/services/chat"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 16 << 10
)

var validate = validator.New()

type sendFrame struct {
	Text string `json:"text" conform:"trim" validate:"required"`
}

type timelineFrame struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
	Error          string           `json:"error,omitempty"`
}

func (s *Server) handleHealthz() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, "ok", http.StatusOK, nil, nil)
	}
}

func (s *Server) handleListConversations() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := currentIdentity(c)
		conversations, err := s.ChatService.ListConversations(c.Request.Context(), identity.UserID)
		if err != nil {
			s.logger().Error("list conversations", zap.String("user_id", identity.UserID), zap.Error(err))
			response.HandleErrors(c, err)
			return
		}
		response.JSON(c, "conversations retrieved", http.StatusOK, conversations, nil)
	}
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := s.Config.AccessControlAllowOrigin
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowed == "" || origin == "" || origin == allowed
		},
	}
}

// handleChatSocket opens a chat session with the counterpart and bridges it
// to a websocket: inbound frames are sent, every timeline change is pushed.
func (s *Server) handleChatSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := currentIdentity(c)
		session, err := s.ChatService.OpenSession(c.Request.Context(), identity.UserID, c.Param("counterpartID"))
		if err != nil {
			response.HandleErrors(c, err)
			return
		}

		log := s.logger().With(zap.String("user_id", identity.UserID), zap.String("conversation_id", session.ConversationID()))
		conn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			session.Close()
			log.Error("upgrade error", zap.Error(err))
			return
		}
		log.Info("chat socket connected")

		notices := make(chan string, 8)
		done := make(chan struct{})
		go pushTimeline(conn, session, notices, done, log)

		s.readFrames(conn, session, notices, done, log)
		session.Close()
		<-done
		log.Info("chat socket disconnected")
	}
}

func (s *Server) readFrames(conn *websocket.Conn, session *chat.Session, notices chan<- string, done <-chan struct{}, log *zap.Logger) {
	conn.SetReadLimit(maxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	notify := func(msg string) {
		select {
		case notices <- msg:
		case <-done:
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read loop error", zap.Error(err))
			}
			return
		}

		text, err := s.decodeSendFrame(data)
		if err != nil {
			notify(err.Error())
			continue
		}
		if err := session.Send(text); err != nil {
			notify(err.Error())
			if errors.Is(err, chat.ErrNotAuthenticated) {
				return
			}
		}
	}
}

func (s *Server) decodeSendFrame(data []byte) (string, error) {
	var frame sendFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", errors.New("malformed frame")
	}
	if err := conform.Strings(&frame); err != nil {
		return "", err
	}
	if err := validate.Struct(&frame); err != nil {
		return "", errors.New("message text is required")
	}
	if limit := s.Config.MaxMessageLength; limit > 0 {
		if err := validate.Var(frame.Text, fmt.Sprintf("max=%d", limit)); err != nil {
			return "", fmt.Errorf("message text is longer than %d characters", limit)
		}
	}
	return frame.Text, nil
}

// pushTimeline is the only writer on conn.
func pushTimeline(conn *websocket.Conn, session *chat.Session, notices <-chan string, done chan<- struct{}, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()

	write := func(notice string) error {
		frame := timelineFrame{
			ConversationID: session.ConversationID(),
			Messages:       session.Timeline(),
		}
		if err := session.LastError(); err != nil {
			frame.Error = err.Error()
		}
		if notice != "" {
			frame.Error = notice
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(frame)
	}

	for {
		select {
		case _, ok := <-session.Updates():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := write(""); err != nil {
				log.Debug("timeline push failed", zap.Error(err))
				return
			}
		case notice := <-notices:
			if err := write(notice); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
