package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/JVHBO/vibefid-voice/internal/middleware"
)

// LoginRequest binds a session token to a wallet address. Verifying that the
// caller actually controls the address is the identity layer's job; this
// service only needs a stable lowercased identity for authenticated routes.
type LoginRequest struct {
	Address  string `json:"address" binding:"required"`
	Username string `json:"username"`
}

// LoginResponse carries the issued token
type LoginResponse struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

// Login issues a JWT for the given identity, valid for 24 hours.
func Login(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		address := strings.ToLower(req.Address)
		now := time.Now()
		claims := middleware.VoiceClaims{
			Address:  address,
			Username: req.Username,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
			},
		}

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		tokenString, err := token.SignedString([]byte(jwtSecret))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
			return
		}

		c.JSON(http.StatusOK, LoginResponse{Token: tokenString, Address: address})
	}
}
