package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courtbooking/internal/api"
	"courtbooking/internal/logger"
)

type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Handler signs in the single admin account, whose bcrypt password hash
// comes from configuration.
type Handler struct {
	passwordHash  string
	accessSecret  string
	refreshSecret string
}

func NewHandler(passwordHash, accessSecret, refreshSecret string) *Handler {
	return &Handler{
		passwordHash:  passwordHash,
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if h.passwordHash == "" || !CheckPassword(h.passwordHash, req.Password) {
		logger.Warn("Rejected admin login", "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "Invalid credentials"})
		return
	}

	accessToken, refreshToken, err := GenerateTokens(AdminSubject, AdminRole, h.accessSecret, h.refreshSecret)
	if err != nil {
		logger.Error("Failed to generate tokens", "error", err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, TokenResponse{AccessToken: accessToken, RefreshToken: refreshToken})
}

func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
		return
	}

	accessToken, _, err := RefreshAccessToken(req.RefreshToken, h.refreshSecret, h.accessSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "Invalid refresh token"})
		return
	}

	c.JSON(http.StatusOK, TokenResponse{AccessToken: accessToken})
}
