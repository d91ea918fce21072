package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"cos-backend/config"
	"cos-backend/database"
	"cos-backend/middleware"
)

// HandleWebSocket handles WebSocket connections for the live attendance feed.
// It authenticates the staff member, verifies scan permissions for the event,
// and manages the connection lifecycle.
func HandleWebSocket(c *websocket.Conn, hub *Hub, db database.Database, cfg *config.Config) {
	defer c.Close()

	// Event ID comes from the route, the token from the query string.
	// Browsers cannot set an Authorization header on WebSocket upgrades.
	eventIDStr := c.Params("id")
	tokenStr := c.Query("token")

	if tokenStr == "" {
		log.Printf("WebSocket connection rejected: missing token")
		return
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.JWTSecret, nil
	})

	if err != nil || !token.Valid {
		log.Printf("WebSocket connection rejected: invalid token")
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		log.Printf("WebSocket connection rejected: invalid token claims")
		return
	}

	// The token is the sole identity source for this connection
	tokenUserID, ok := claims["user_id"].(string)
	if !ok {
		log.Printf("WebSocket connection rejected: missing user_id claim")
		return
	}

	userID, err := uuid.Parse(tokenUserID)
	if err != nil {
		log.Printf("Invalid user ID in token: %v", err)
		return
	}

	eventID, err := uuid.Parse(eventIDStr)
	if err != nil {
		log.Printf("Invalid event ID: %v", err)
		return
	}

	// Live attendance is staff-only: same permission ladder as scanning
	ctx := context.Background()
	if !middleware.CanManageEvent(ctx, db, userID, eventID) {
		log.Printf("User %s is not allowed to watch event %s", userID, eventID)
		return
	}

	conn := &Connection{
		ID:      uuid.New().String(),
		UserID:  userID,
		EventID: eventID,
		Conn:    c,
		Send:    make(chan []byte, 256),
	}

	hub.RegisterConnection(conn)

	// Handle outgoing messages
	go func() {
		defer hub.UnregisterConnection(conn)

		for message := range conn.Send {
			if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}
		}
		c.WriteMessage(websocket.CloseMessage, []byte{})
	}()

	// Watchers only consume the feed; the read loop exists for keep-alives
	// and to notice when the client goes away
	for {
		var msg WSMessage
		err := c.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		switch msg.Type {
		case "ping":
			pong, err := json.Marshal(WSMessage{
				Type:    "pong",
				EventID: eventID.String(),
			})
			if err != nil {
				continue
			}
			select {
			case conn.Send <- pong:
			default:
			}
		}
	}
}
