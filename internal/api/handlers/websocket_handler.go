package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/workflow"
	"github.com/rag-agent/backend/pkg/logger"
)

// InputCheck validates one query and returns the text to run.
type InputCheck func(input string) (string, error)

type WebSocketHandler struct {
	workflow Workflow
	check    InputCheck
}

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// NewWebSocketHandler runs every query message through check before the
// workflow sees it. A nil check only trims the input.
func NewWebSocketHandler(wf Workflow, check InputCheck) *WebSocketHandler {
	if check == nil {
		check = func(input string) (string, error) {
			return strings.TrimSpace(input), nil
		}
	}
	return &WebSocketHandler{
		workflow: wf,
		check:    check,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		input, err := h.check(msg.Content)
		if err != nil {
			if err := sendFrame(c, "error", apperr.UserMessage(err)); err != nil {
				break
			}
			continue
		}

		logger.Info("Processing WebSocket query", zap.String("query", input))

		if err := h.streamResponse(ctx, c, input); err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) streamResponse(ctx context.Context, c *websocket.Conn, input string) error {
	if err := sendFrame(c, "status", "Processing query..."); err != nil {
		return err
	}

	st := h.workflow.Execute(ctx, input)

	for _, chunk := range streamChunks(st.Response) {
		if err := sendFrame(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return c.WriteJSON(completeFrame(st))
}

func sendFrame(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func completeFrame(st workflow.State) map[string]interface{} {
	return map[string]interface{}{
		"type":       "complete",
		"request_id": st.RequestID,
		"intent":     st.Intent.Kind.String(),
		"sources":    sourcesOf(st.RetrievedDocs),
	}
}

// streamChunks splits text into words, keeping the separators so the chunks
// concatenate back to text.
func streamChunks(text string) []string {
	var (
		chunks []string
		b      strings.Builder
	)
	for _, r := range text {
		b.WriteRune(r)
		if r == ' ' || r == '\n' {
			chunks = append(chunks, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
