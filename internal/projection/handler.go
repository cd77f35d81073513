package projection

import (
	"errors"
	"log/slog"
	"net/http"

	httperr "github.com/aevon-lab/balance-stream/internal/core/errors"
	"github.com/aevon-lab/balance-stream/internal/core/storage"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all projection API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/accounts/:account_id/balance", s.HandleBalance)
	r.GET("/v1/accounts/:account_id/projection", s.HandleProjection)
}

type accountURI struct {
	AccountID string `uri:"account_id" binding:"required"`
}

// HandleBalance handles GET /v1/accounts/:account_id/balance
func (s *Service) HandleBalance(c *gin.Context) {
	var uri accountURI
	if err := c.ShouldBindUri(&uri); err != nil {
		writeBadPath(c, err)
		return
	}

	resp, err := s.Balance(c.Request.Context(), uri.AccountID)
	if err != nil {
		writeLookupError(c, uri.AccountID, "Failed to load account state", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleProjection handles GET /v1/accounts/:account_id/projection
func (s *Service) HandleProjection(c *gin.Context) {
	var uri accountURI
	if err := c.ShouldBindUri(&uri); err != nil {
		writeBadPath(c, err)
		return
	}

	resp, err := s.Projection(c.Request.Context(), uri.AccountID)
	if err != nil {
		writeLookupError(c, uri.AccountID, "Failed to load account projection", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func writeBadPath(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
		ErrorType: httperr.HttpInvalidJsonError,
		Message:   "Invalid path parameters",
		Details:   err.Error(),
	})
}

func writeLookupError(c *gin.Context, accountID, msg string, err error) {
	if errors.Is(err, storage.ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpAccountNotFoundError,
			Message:   "No state exists for account",
			Details:   map[string]interface{}{"account_id": accountID},
		})
		return
	}

	slog.Error("[Projection] "+msg, "account_id", accountID, "error", err)
	c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
		ErrorType: httperr.HttpDependencyError,
		Message:   msg,
		Details:   err.Error(),
	})
}
