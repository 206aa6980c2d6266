package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/picoforge/passkey-agent/internal/data"
	"github.com/picoforge/passkey-agent/internal/fido"
	"github.com/picoforge/passkey-agent/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local use
	},
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	id    string
	conn  *websocket.Conn
	codec Codec
	send  chan []byte
	hub   *WSHub

	mu         sync.Mutex
	stopEvents func() // non-nil while subscribed to session/device events
}

// WSHub manages all WebSocket connections
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub's main loop
func (h *WSHub) Run() {
	// Re-panic after logging since hub crash is fatal
	defer logging.RecoverAndLog("WebSocket hub", true)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Global hub instance
var wsHub *WSHub

// InitWebSocket initializes the WebSocket hub and returns the handler
func InitWebSocket() http.HandlerFunc {
	wsHub = NewWSHub()
	go wsHub.Run()

	return func(w http.ResponseWriter, r *http.Request) {
		codec := codecForRequest(r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error(logging.CatWebSocket, "WebSocket upgrade failed", map[string]any{
				"error":      err.Error(),
				"remoteAddr": r.RemoteAddr,
			})
			return
		}

		client := &WSClient{
			id:    uuid.NewString(),
			conn:  conn,
			codec: codec,
			send:  make(chan []byte, 256),
			hub:   wsHub,
		}

		logging.Info(logging.CatWebSocket, "Client connected", map[string]any{
			"clientId":   client.id,
			"remoteAddr": r.RemoteAddr,
			"encoding":   codec.Name(),
		})

		wsHub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

func (c *WSClient) readPump() {
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket readPump", false)
	// Cleanup (runs first)
	defer func() {
		c.mu.Lock()
		if c.stopEvents != nil {
			c.stopEvents()
			c.stopEvents = nil
		}
		c.mu.Unlock()

		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024) // 64KB max message size
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn(logging.CatWebSocket, "WebSocket unexpected close", map[string]any{
					"clientId": c.id,
					"error":    err.Error(),
				})
			} else {
				logging.Debug(logging.CatWebSocket, "Client disconnected", map[string]any{
					"clientId": c.id,
				})
			}
			break
		}

		env, err := c.codec.DecodeEnvelope(message)
		if err != nil {
			c.sendError("", "invalid message format")
			continue
		}

		c.handleMessage(env)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	// Recover from panics (runs last due to LIFO)
	defer logging.RecoverAndLog("WebSocket writePump", false)
	// Cleanup (runs first)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(c.codec.WireType())
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				return
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(env *Envelope) {
	logging.Debug(logging.CatWebSocket, "Received message", map[string]any{
		"type": env.Type,
		"id":   env.ID,
	})

	switch env.Type {
	case "get_state":
		c.handleGetState(env.ID)
	case "unlock":
		c.handleUnlock(env.ID, env.Payload)
	case "lock":
		c.handleLock(env.ID)
	case "delete_credential":
		c.handleDeleteCredential(env.ID, env.Payload)
	case "change_pin":
		c.handleChangePIN(env.ID, env.Payload)
	case "set_min_pin_length":
		c.handleSetMinPINLength(env.ID, env.Payload)
	case "device_info":
		c.handleDeviceInfo(env.ID, env.Payload)
	case "subscribe":
		c.handleSubscribe(env.ID)
	case "unsubscribe":
		c.handleUnsubscribe(env.ID)
	case "supported_authenticators":
		c.handleSupportedAuthenticators(env.ID)
	case "version":
		c.handleVersion(env.ID)
	case "health":
		c.handleHealth(env.ID)
	default:
		logging.Warn(logging.CatWebSocket, "Unknown message type", map[string]any{
			"type": env.Type,
		})
		c.sendError(env.ID, "unknown message type: "+env.Type)
	}
}

func (c *WSClient) sendMessage(msg outMessage) {
	responseBytes, err := c.codec.Marshal(msg)
	if err != nil {
		logging.Error(logging.CatWebSocket, "Failed to encode message", map[string]any{
			"type":  msg.Type,
			"error": err.Error(),
		})
		return
	}
	select {
	case c.send <- responseBytes:
	default:
		// Slow client, drop rather than block the handler.
	}
}

func (c *WSClient) sendResponse(id string, msgType string, payload interface{}) {
	c.sendMessage(outMessage{Type: msgType, ID: id, Payload: payload})
}

// sendPush sends an unsolicited event (no request ID).
func (c *WSClient) sendPush(msgType string, payload interface{}) {
	c.sendMessage(outMessage{Type: msgType, Payload: payload})
}

func (c *WSClient) sendError(id string, errMsg string) {
	c.sendMessage(outMessage{Type: "error", ID: id, Error: errMsg})
}

// sendOpResult waits for a submitted operation and reports its outcome.
// Runs in its own goroutine so the read pump stays responsive.
func (c *WSClient) sendOpResult(id, msgType string, op *fido.Op) {
	go func() {
		defer logging.RecoverAndLog("WebSocket op result", false)

		res := op.Wait()
		if res.Err != nil {
			c.sendError(id, res.Notification)
			return
		}
		c.sendResponse(id, msgType, map[string]interface{}{
			"message": res.Notification,
			"state":   res.State,
		})
	}()
}

func (c *WSClient) handleGetState(id string) {
	c.sendResponse(id, "state", sess.State())
}

func (c *WSClient) handleUnlock(id string, payload []byte) {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := c.codec.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	op, err := sess.Unlock(req.PIN)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.sendOpResult(id, "unlocked", op)
}

func (c *WSClient) handleLock(id string) {
	snap := sess.Lock()
	c.sendResponse(id, "locked", map[string]interface{}{
		"message": "Storage locked",
		"state":   snap,
	})
}

func (c *WSClient) handleDeleteCredential(id string, payload []byte) {
	var req struct {
		CredentialID string `json:"credentialId"`
	}
	if err := c.codec.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	op, err := sess.DeleteCredential(req.CredentialID)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.sendOpResult(id, "credential_deleted", op)
}

func (c *WSClient) handleChangePIN(id string, payload []byte) {
	var req struct {
		CurrentPIN *string `json:"currentPin"`
		NewPIN     string  `json:"newPin"`
	}
	if err := c.codec.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	op, err := sess.ChangePIN(req.CurrentPIN, req.NewPIN)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.sendOpResult(id, "pin_changed", op)
}

func (c *WSClient) handleSetMinPINLength(id string, payload []byte) {
	var req struct {
		PIN    string `json:"pin"`
		Length int    `json:"length"`
	}
	if err := c.codec.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	op, err := sess.SetMinPINLength(req.PIN, req.Length)
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.sendOpResult(id, "min_pin_length_set", op)
}

func (c *WSClient) handleDeviceInfo(id string, payload []byte) {
	var req struct {
		Refresh bool `json:"refresh"`
	}
	if len(payload) > 0 {
		if err := c.codec.Unmarshal(payload, &req); err != nil {
			c.sendError(id, "invalid payload")
			return
		}
	}

	if req.Refresh {
		devWatcher.Poll()
	}

	info := devWatcher.Current()
	c.sendResponse(id, "device", map[string]interface{}{
		"connected": info != nil,
		"info":      info,
	})
}

// handleSubscribe starts forwarding session and device events to the
// client until it unsubscribes or disconnects.
func (c *WSClient) handleSubscribe(id string) {
	c.mu.Lock()
	if c.stopEvents != nil {
		c.mu.Unlock()
		c.sendResponse(id, "subscribed", map[string]interface{}{
			"state": sess.State(),
		})
		return
	}

	sessCh, sessOff := sess.Subscribe()
	devCh, devOff := devWatcher.Subscribe()
	done := make(chan struct{})
	c.stopEvents = func() {
		sessOff()
		devOff()
		close(done)
	}
	c.mu.Unlock()

	go func() {
		defer logging.RecoverAndLog("WebSocket event forwarder", false)

		for {
			select {
			case ev := <-sessCh:
				switch ev.Type {
				case fido.EventStateChanged:
					c.sendPush(string(ev.Type), ev.State)
				case fido.EventNotification:
					c.sendPush(string(ev.Type), map[string]string{
						"message": ev.Notification,
					})
				}
			case ev := <-devCh:
				c.sendPush(string(ev.Type), map[string]interface{}{
					"info": ev.Info,
				})
			case <-done:
				return
			}
		}
	}()

	logging.Info(logging.CatWebSocket, "Client subscribed to events", map[string]any{
		"clientId": c.id,
	})
	c.sendResponse(id, "subscribed", map[string]interface{}{
		"state": sess.State(),
	})
}

func (c *WSClient) handleUnsubscribe(id string) {
	c.mu.Lock()
	if c.stopEvents != nil {
		c.stopEvents()
		c.stopEvents = nil
	}
	c.mu.Unlock()

	logging.Info(logging.CatWebSocket, "Client unsubscribed from events", map[string]any{
		"clientId": c.id,
	})
	c.sendResponse(id, "unsubscribed", nil)
}

func (c *WSClient) handleSupportedAuthenticators(id string) {
	auths, err := data.KnownAuthenticators()
	if err != nil {
		c.sendError(id, "failed to load authenticator registry")
		return
	}
	c.sendResponse(id, "supported_authenticators", map[string]interface{}{
		"authenticators": auths,
	})
}

func (c *WSClient) handleVersion(id string) {
	c.sendResponse(id, "version", map[string]string{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	})
}

func (c *WSClient) handleHealth(id string) {
	snap := sess.State()
	c.sendResponse(id, "health", map[string]interface{}{
		"status":          "ok",
		"deviceConnected": devWatcher.Connected(),
		"lockState":       snap.LockState,
	})
}
