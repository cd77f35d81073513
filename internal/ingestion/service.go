package ingestion

import (
	"context"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
	"github.com/aevon-lab/balance-stream/internal/processing"
	"github.com/gin-gonic/gin"
)

// Dispatcher runs one message to completion on its owning worker.
type Dispatcher interface {
	Do(ctx context.Context, msg processing.Message) (processing.Outcome, error)
}

// Service is the operator replay path: events posted here go through the
// same workers as the Kafka streams.
type Service struct {
	dispatcher       Dispatcher
	maxBodySizeBytes int
}

func NewService(d Dispatcher, maxBodySizeMB int) *Service {
	if d == nil {
		panic("ingestion: dispatcher must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		dispatcher:       d,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the replay routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events/eod", s.replay(v1.KindEOD))
	r.POST("/v1/events/transactions", s.replay(v1.KindTransaction))
}
