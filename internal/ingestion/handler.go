package ingestion

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
	httperr "github.com/aevon-lab/balance-stream/internal/core/errors"
	"github.com/aevon-lab/balance-stream/internal/processing"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed   = "Failed to read request body"
	msgBodyTooLarge     = "Request body exceeds maximum allowed size"
	msgDuplicateEvent   = "Event already processed"
	msgStaleEvent       = "Event is older than the account's EOD snapshot"
	msgDependencyFailed = "A dependency failed while processing the event"
	msgUnavailable      = "Processing is shutting down"
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

type replayResponse struct {
	Status    string `json:"status"`
	Outcome   string `json:"outcome"`
	AccountID string `json:"account_id"`
	MessageID string `json:"message_id"`
}

func (s *Service) replay(kind v1.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ierr := s.readBody(c)
		if ierr != nil {
			writeError(c, ierr)
			return
		}

		msg := processing.Message{
			Kind:       kind,
			Payload:    body,
			ReceivedAt: time.Now().UTC(),
		}
		out, err := s.dispatcher.Do(c.Request.Context(), msg)
		if err != nil {
			slog.Warn("[Ingestion] Replay not dispatched", "kind", kind, "error", err)
			writeError(c, &ingestionError{
				statusCode: http.StatusServiceUnavailable,
				errorType:  httperr.HttpDependencyError,
				message:    msgUnavailable,
			})
			return
		}

		slog.Info("[Ingestion] Replayed event",
			"kind", kind,
			"account_id", out.AccountID,
			"message_id", out.MessageID,
			"outcome", out.Tag.String())

		if ierr := outcomeError(out); ierr != nil {
			writeError(c, ierr)
			return
		}
		c.JSON(http.StatusAccepted, replayResponse{
			Status:    "accepted",
			Outcome:   out.Tag.String(),
			AccountID: out.AccountID,
			MessageID: out.MessageID,
		})
	}
}

// readBody enforces the body size limit.
func (s *Service) readBody(c *gin.Context) ([]byte, *ingestionError) {
	maxBytes := int64(s.maxBodySizeBytes)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBytes+1)) // +1 to detect oversized requests
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return nil, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}
	if int64(len(body)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(body), "max", maxBytes)
		return nil, &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgBodyTooLarge,
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}
	return body, nil
}

// outcomeError maps a refused outcome to its HTTP error; nil when applied.
func outcomeError(out processing.Outcome) *ingestionError {
	switch out.Tag {
	case processing.Accepted, processing.Mismatch:
		return nil
	case processing.Invalid:
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    errMessage(out),
			details:    map[string]interface{}{"reason": out.Reason},
		}
	case processing.Duplicate:
		return &ingestionError{
			statusCode: http.StatusConflict,
			errorType:  httperr.HttpDuplicateEventError,
			message:    msgDuplicateEvent,
		}
	case processing.Stale:
		return &ingestionError{
			statusCode: http.StatusUnprocessableEntity,
			errorType:  httperr.HttpStaleEventError,
			message:    msgStaleEvent,
		}
	default:
		return &ingestionError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpDependencyError,
			message:    msgDependencyFailed,
		}
	}
}

func errMessage(out processing.Outcome) string {
	if out.Err != nil {
		return out.Err.Error()
	}
	return out.Reason
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
