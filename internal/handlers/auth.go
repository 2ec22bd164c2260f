package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/liveclass/internal/middleware"
	"github.com/mossy-p/liveclass/internal/models"
)

const tokenTTL = 24 * time.Hour

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"` // teacher or student, default student
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token  string      `json:"token"`
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
}

// Login issues a JWT carrying the user's role.
// Accounts live in an external identity service; any username/password is
// accepted here.
func Login(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		if req.Role == "" {
			req.Role = string(models.RoleStudent)
		}
		role, err := models.ParseRole(req.Role)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}

		userID := req.Username
		token, err := middleware.IssueToken(jwtSecret, userID, role, tokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		c.JSON(http.StatusOK, LoginResponse{
			Token:  token,
			UserID: userID,
			Role:   role,
		})
	}
}
