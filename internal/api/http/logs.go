package http

import (
	"net/http"
	"time"

	"github.com/dwebshell/core/internal/shared/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxLogBatch bounds the entries accepted in one request
const maxLogBatch = 500

// LogEntry is one log line sent by a module page
type LogEntry struct {
	ID        string                 `json:"id"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context"`
	Timestamp string                 `json:"timestamp"`
}

// LogStreamRequest is a batch of log lines from one module
type LogStreamRequest struct {
	Module  string     `json:"module" binding:"required"`
	Entries []LogEntry `json:"entries"`
}

// StreamLogs writes log lines from module pages into the shell log
func (h *Handlers) StreamLogs(c *gin.Context) {
	var req LogStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log request: " + err.Error()})
		return
	}
	if err := utils.ValidateModuleID(req.Module); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Entries) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no log entries provided"})
		return
	}
	if len(req.Entries) > maxLogBatch {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too many log entries"})
		return
	}

	logger := h.logger.Named("page").With(zap.String("module", req.Module))
	for _, entry := range req.Entries {
		logEntry(logger, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"entries_processed": len(req.Entries),
		"timestamp":         time.Now().Unix(),
	})
}

func logEntry(logger *zap.Logger, entry LogEntry) {
	fields := make([]zap.Field, 0, len(entry.Context)+2)
	fields = append(fields,
		zap.String("log_id", entry.ID),
		zap.String("page_timestamp", entry.Timestamp),
	)
	for key, value := range entry.Context {
		switch v := value.(type) {
		case string:
			fields = append(fields, zap.String(key, v))
		case float64:
			fields = append(fields, zap.Float64(key, v))
		case bool:
			fields = append(fields, zap.Bool(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}

	switch entry.Level {
	case "error":
		logger.Error(entry.Message, fields...)
	case "warn":
		logger.Warn(entry.Message, fields...)
	case "debug", "verbose":
		logger.Debug(entry.Message, fields...)
	default:
		logger.Info(entry.Message, fields...)
	}
}
