package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/entrepeneur4lyf/chatforge/internal/chat"
	"github.com/entrepeneur4lyf/chatforge/internal/events"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/providers"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/tools"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Message types exchanged over the chat websocket
const (
	MessageChat        = "chat_message"
	MessageCancel      = "cancel"
	MessageApprove     = "approve"
	MessageReject      = "reject"
	MessageHistory     = "history"
	MessageReplay      = "replay"
	MessagePing        = "ping"
	MessagePong        = "pong"
	MessageConnected   = "connected"
	MessageReceived    = "message_received"
	MessageResponse    = "chat_response"
	MessageToolCall    = "tool_call"
	MessageError       = "error"
	messageEventPrefix = "event."
)

// WebSocketMessage is the envelope for everything sent to a client. Turn events are
// forwarded with the type "event.<event type>" and the update as data.
type WebSocketMessage struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// inboundMessage is the envelope clients send
type inboundMessage struct {
	Type    string          `json:"type"`
	EventID string          `json:"event_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ChatRequest is the data of a chat_message
type ChatRequest struct {
	Message    string `json:"message"`
	ActiveFile string `json:"active_file,omitempty"`
	Selection  string `json:"selection,omitempty"`
	Model      string `json:"model,omitempty"`
}

// ChatWebSocketClient is one websocket connection with its own chat session
type ChatWebSocketClient struct {
	conn    *websocket.Conn
	session *chat.Session
	broker  *events.Broker[chat.Update]
	send    chan WebSocketMessage
	server  *Server

	ctx    context.Context
	cancel context.CancelFunc

	turnMu     sync.Mutex
	cancelTurn context.CancelFunc
}

// handleChatWebSocket upgrades the request and starts a session for the connection.
// A conversation query parameter resumes a stored conversation.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	broker := events.NewBroker[chat.Update]()
	opts := s.app.SessionOptions(true)
	opts.Broker = broker
	session, err := chat.NewSession(opts)
	if err != nil {
		broker.Shutdown()
		writeError(w, "Failed to start session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if id := r.URL.Query().Get("conversation"); id != "" {
		if err := session.Resume(r.Context(), id); err != nil {
			broker.Shutdown()
			writeError(w, "Conversation not found", http.StatusNotFound)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		broker.Shutdown()
		log.Warn("WebSocket upgrade failed", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	client := &ChatWebSocketClient{
		conn:    conn,
		session: session,
		broker:  broker,
		send:    make(chan WebSocketMessage, sendBuffer),
		server:  s,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.connectionManager.Add(client)
	log.Debug("WebSocket client connected", "remote", r.RemoteAddr)

	client.trySend(WebSocketMessage{
		Type: MessageConnected,
		Data: map[string]any{"conversation_id": session.ConversationID()},
	})

	go client.forwardEvents(broker.Subscribe(ctx))
	go client.writePump()
	go client.readPump()
}

// readPump handles incoming messages until the connection drops
func (c *ChatWebSocketClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("WebSocket read error", "err", err)
			}
			return
		}
		c.handleMessage(msg)
	}
}

// writePump serialises outgoing messages and keeps the connection alive with pings
func (c *ChatWebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Warn("WebSocket write error", "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *ChatWebSocketClient) forwardEvents(ch <-chan events.Event[chat.Update]) {
	for ev := range ch {
		c.trySend(WebSocketMessage{
			Type:    messageEventPrefix + string(ev.Type),
			EventID: ev.ID,
			Data:    ev.Payload,
		})
	}
}

// handleMessage dispatches one client message
func (c *ChatWebSocketClient) handleMessage(msg inboundMessage) {
	switch msg.Type {
	case MessageChat:
		c.handleChatMessage(msg)
	case MessageCancel:
		c.turnMu.Lock()
		if c.cancelTurn != nil {
			c.cancelTurn()
		}
		c.turnMu.Unlock()
	case MessageApprove, MessageReject:
		c.handleApproval(msg)
	case MessageHistory:
		c.trySend(WebSocketMessage{Type: MessageHistory, EventID: msg.EventID, Data: c.session.Messages()})
	case MessageReplay:
		c.trySend(WebSocketMessage{Type: MessageReplay, EventID: msg.EventID, Data: c.broker.GetHistory()})
	case MessagePing:
		c.trySend(WebSocketMessage{Type: MessagePong, EventID: msg.EventID})
	default:
		c.sendError(errors.New("unknown message type: "+msg.Type), msg.EventID)
	}
}

func (c *ChatWebSocketClient) handleChatMessage(msg inboundMessage) {
	var req ChatRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.sendError(errors.New("invalid message data"), msg.EventID)
		return
	}

	turnCtx, done, ok := c.beginTurn(msg.EventID)
	if !ok {
		return
	}

	c.trySend(WebSocketMessage{Type: MessageReceived, EventID: msg.EventID})

	go func() {
		result, err := c.session.Send(turnCtx, chat.TurnInput{
			Text:       req.Message,
			ActiveFile: req.ActiveFile,
			Selection:  req.Selection,
			Model:      req.Model,
		})
		// free the slot before replying so the client's next message is accepted
		done()
		if err != nil {
			c.sendError(err, msg.EventID)
			return
		}
		c.trySend(WebSocketMessage{Type: MessageResponse, EventID: msg.EventID, Data: result})
	}()
}

func (c *ChatWebSocketClient) handleApproval(msg inboundMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.ID == "" {
		c.sendError(errors.New("missing tool call id"), msg.EventID)
		return
	}

	turnCtx, done, ok := c.beginTurn(msg.EventID)
	if !ok {
		return
	}

	go func() {
		var (
			call tools.AgentToolCall
			err  error
		)
		if msg.Type == MessageApprove {
			call, err = c.session.Approve(turnCtx, req.ID)
		} else {
			call, err = c.session.Reject(turnCtx, req.ID)
		}
		done()
		if err != nil {
			c.sendError(err, msg.EventID)
			return
		}
		c.trySend(WebSocketMessage{Type: MessageToolCall, EventID: msg.EventID, Data: call})
	}()
}

// beginTurn claims the connection's single turn slot, shared by chat turns and
// approvals. A cancel message cancels whichever holds it.
func (c *ChatWebSocketClient) beginTurn(eventID string) (context.Context, func(), bool) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	if c.cancelTurn != nil {
		c.sendError(chat.ErrTurnInProgress, eventID)
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelTurn = cancel

	return ctx, func() {
		c.turnMu.Lock()
		c.cancelTurn = nil
		c.turnMu.Unlock()
		cancel()
	}, true
}

// trySend queues msg unless the client is gone or too far behind
func (c *ChatWebSocketClient) trySend(msg WebSocketMessage) {
	select {
	case <-c.ctx.Done():
	case c.send <- msg:
	default:
		log.Warn("WebSocket client backed up, dropping message", "type", msg.Type)
	}
}

func (c *ChatWebSocketClient) sendError(err error, eventID string) {
	c.trySend(WebSocketMessage{
		Type:    MessageError,
		EventID: eventID,
		Error:   err.Error(),
		Hint:    providers.ErrorHint(err),
	})
}

// close ends the session, its events and the connection. Safe to call more than once.
func (c *ChatWebSocketClient) close() {
	c.cancel()
	c.broker.Shutdown()
	_ = c.conn.Close()
	c.server.connectionManager.Remove(c)
}
