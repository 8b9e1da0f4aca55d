package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentcore/agentcore/internal/domain/agent"
	"github.com/agentcore/agentcore/internal/interfaces/websocket"
)

// NewWebSocketBridge builds a Hub wired to app: every inbound chat message
// looks up (or lazily creates) the client's session Engine and streams its
// Execute events back to that same client as they arrive, the WS analogue
// of the HTTP server's SSE /stream endpoint.
func NewWebSocketBridge(app *App) *websocket.Hub {
	hub := websocket.NewHub(app.Logger())
	hub.SetMessageHandler(func(client *websocket.Client, msg *websocket.WSMessage) {
		if msg.Type != websocket.MessageTypeChat {
			return
		}
		sessionID := client.GetSessionID()
		if sessionID == "" {
			sessionID = client.GetID()
		}

		engine, err := sessionOrCreateEngine(app, sessionID)
		if err != nil {
			client.SendMessage(&websocket.WSMessage{
				Type:      websocket.MessageTypeError,
				SessionID: sessionID,
				Content:   err.Error(),
			})
			return
		}

		streamToClient(app, engine, client, sessionID, msg.Content)
	})
	return hub
}

func sessionOrCreateEngine(app *App, sessionID string) (*agent.Engine, error) {
	if e, ok := app.Session(sessionID); ok {
		return e, nil
	}
	return app.NewSession(sessionID)
}

// streamToClient drains one Execute call, translating each AgentEvent into
// a WSMessage keyed by the event's type so the browser client can branch on
// msg.Type the same way it would on an SSE `event:` line.
func streamToClient(app *App, e *agent.Engine, client *websocket.Client, sessionID, query string) {
	ctx := context.Background()
	for ev := range e.Execute(ctx, query, agent.ModeAuto) {
		wsType := websocket.MessageTypeStream
		switch ev.Type {
		case "tool_call":
			wsType = websocket.MessageTypeToolCall
		case "tool_result":
			wsType = websocket.MessageTypeToolResult
		case "error":
			wsType = websocket.MessageTypeError
		}

		content, _ := ev.Payload["content"].(string)
		client.SendMessage(&websocket.WSMessage{
			Type:      wsType,
			SessionID: sessionID,
			Content:   content,
			Metadata: map[string]interface{}{
				"event_type": string(ev.Type),
				"payload":    ev.Payload,
			},
		})
	}
	app.Logger().Debug("ws: turn complete", zap.String("session_id", sessionID))
}
