package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type sessionResponse struct {
	ID         string    `json:"id"`
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	IpAddress  string    `json:"ipAddress,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	IsCurrent  bool      `json:"isCurrent"`
}

type userStatusRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

// idParam reads a UUID path parameter. Anything else cannot name a row, so
// it is reported as not found.
func (s *Server) idParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		s.writeError(c, common.ErrorNotFound)
		return "", false
	}
	return id, true
}

func (s *Server) profile(c *gin.Context) {
	user, err := s.auth.GetProfile(c.Request.Context(), claimsFrom(c).Subject)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(user))
}

func (s *Server) listSessions(c *gin.Context) {
	claims := claimsFrom(c)
	list, err := s.auth.ListSessions(c.Request.Context(), claims.Subject, claims.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := make([]sessionResponse, 0, len(list))
	for _, v := range list {
		out = append(out, sessionResponse{
			ID:         v.ID,
			DeviceInfo: v.DeviceInfo,
			IpAddress:  v.IpAddress,
			CreatedAt:  v.CreatedAt,
			ExpiresAt:  v.ExpiresAt,
			IsCurrent:  v.IsCurrent,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) revokeSession(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	if err := s.auth.RevokeSession(c.Request.Context(), claimsFrom(c).Subject, id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session revoked successfully"})
}

func (s *Server) setUserStatus(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	req, ok := bind[userStatusRequest](c)
	if !ok {
		return
	}
	if err := s.auth.SetUserActive(c.Request.Context(), id, *req.IsActive); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User status updated", "isActive": *req.IsActive})
}
