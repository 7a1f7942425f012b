package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxLoggedBody caps how much of a JSON request body is logged.
const maxLoggedBody = 4 << 10

var redactedFields = map[string]bool{
	"password": true,
	"token":    true,
}

// Logger logs every request after it completes. JSON request bodies are
// logged for non-GET requests with secret fields redacted; other bodies
// (uploads) are never logged.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		var requestBody []byte
		if c.Request.Method != "GET" && c.Request.Body != nil &&
			strings.HasPrefix(c.ContentType(), "application/json") {
			requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBody+1))
			c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(requestBody), c.Request.Body))
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		if raw != "" {
			path = path + "?" + raw
		}

		var event *zerolog.Event
		switch {
		case statusCode >= 500:
			event = log.Error()
		case statusCode >= 400:
			event = log.Warn()
		default:
			event = log.Info()
		}

		event = event.
			Str("request_id", c.GetString(ContextRequestID)).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("user_agent", c.Request.UserAgent())

		if identity := CurrentIdentity(c); identity != nil {
			event = event.Int64("user_id", identity.ID)
		}
		if len(requestBody) > 0 && len(requestBody) <= maxLoggedBody {
			event = event.RawJSON("request", redactJSON(requestBody))
		}

		event.Msg("request processed")
	}
}

// redactJSON masks secret fields of a JSON object. Anything that is not a
// JSON object is replaced entirely.
func redactJSON(body []byte) []byte {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return []byte(`"[unparsable]"`)
	}
	for k := range fields {
		if redactedFields[strings.ToLower(k)] {
			fields[k] = "[redacted]"
		}
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return []byte(`"[unparsable]"`)
	}
	return out
}
