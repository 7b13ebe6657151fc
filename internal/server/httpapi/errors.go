package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/gin-gonic/gin"
)

func errorBody(msg string) gin.H {
	return gin.H{"error": msg}
}

// writeError maps service errors to status codes. Unknown errors are logged
// and reported as 500 without detail.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		rl *common.RateLimitError
		ve *common.ValidationError
	)

	switch {
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":             "too many requests, please wait",
			"retryAfterSeconds": int(rl.RetryAfter.Seconds()),
		})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, errorBody(ve.Reason))
	case errors.Is(err, common.ErrorValidation):
		c.JSON(http.StatusBadRequest, errorBody("invalid request"))
	case errors.Is(err, common.ErrorAlreadyExists):
		c.JSON(http.StatusConflict, errorBody("already registered"))
	case errors.Is(err, common.ErrInvalidOTP):
		c.JSON(http.StatusUnauthorized, errorBody("invalid or expired code"))
	case errors.Is(err, common.ErrAccountInactive):
		c.JSON(http.StatusUnauthorized, errorBody("account is deactivated"))
	case errors.Is(err, common.ErrRefreshTokenExpired):
		c.JSON(http.StatusUnauthorized, errorBody("refresh token expired"))
	case errors.Is(err, common.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, errorBody("invalid token"))
	case errors.Is(err, common.ErrorUnauthorized):
		c.JSON(http.StatusUnauthorized, errorBody("invalid credentials"))
	case errors.Is(err, common.ErrorNotFound):
		c.JSON(http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, common.ErrDeliveryFailed):
		c.JSON(http.StatusBadGateway, errorBody("failed to send code, please try again"))
	default:
		s.logger.Error(c.Request.Context(), "request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}
