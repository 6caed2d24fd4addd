package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rag-agent/backend/internal/api/handlers"
	"github.com/rag-agent/backend/internal/apperr"
	"github.com/rag-agent/backend/internal/ingestion"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength      int
	MaxDocumentSize     int
	MaxTopK             int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if cfg.MaxTopK == 0 {
		cfg.MaxTopK = 50
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// Query returns the check applied to query text that arrives outside a JSON
// body, such as websocket messages. It yields the sanitized text or an
// ErrValidation error.
func Query(cfg Config) func(input string) (string, error) {
	cfg = cfg.withDefaults()
	return func(input string) (string, error) {
		switch {
		case strings.TrimSpace(input) == "":
			return "", apperr.Validation("query is required")
		case len(input) > cfg.MaxQueryLength:
			return "", apperr.Validation("query exceeds maximum length")
		case containsXSS(input):
			cfg.Logger.Warn("Potential XSS attempt", zap.String("query", input))
			return "", apperr.Validation("invalid query content")
		}
		return sanitizeString(input), nil
	}
}

func Middleware(cfg Config) fiber.Handler {
	cfg = cfg.withDefaults()

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get("Content-Type")
			if contentType != "" && !allowedContentType(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()
		switch {
		case c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/process"):
			return checkQuery(c, cfg, "input", 0)
		case c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/search"):
			return checkQuery(c, cfg, "query", cfg.MaxTopK)
		case strings.Contains(path, "/documents") && (c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut):
			return checkDocument(c, cfg)
		}

		return c.Next()
	}
}

func checkQuery(c *fiber.Ctx, cfg Config, field string, maxK int) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	query, ok := req[field].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Field '" + field + "' is required and must be a string",
		})
	}

	if len(query) > cfg.MaxQueryLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query exceeds maximum length",
		})
	}

	if containsXSS(query) {
		cfg.Logger.Warn("Potential XSS attempt",
			zap.String("ip", c.IP()),
			zap.String("query", query),
		)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid query content",
		})
	}

	if maxK > 0 {
		if k, ok := req["k"].(float64); ok && (k < 0 || k > float64(maxK)) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "k is out of range",
			})
		}
	}

	c.Locals(handlers.SanitizedInputKey, sanitizeString(query))
	return c.Next()
}

func checkDocument(c *fiber.Ctx, cfg Config) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	if content, ok := req["content"].(string); ok && len(content) > cfg.MaxDocumentSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Document content exceeds maximum size",
		})
	}

	if ct, ok := req["content_type"].(string); ok && ct != "" && ct != "text" && ct != ingestion.ContentTypeHTML {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "content_type must be 'text' or 'html'",
		})
	}

	if id, ok := req["doc_id"].(string); ok && strings.ContainsAny(id, "/\\|") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "doc_id contains invalid characters",
		})
	}

	return c.Next()
}

func allowedContentType(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.Contains(contentType, a) {
			return true
		}
	}
	return false
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
