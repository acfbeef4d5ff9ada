package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer = "roomrelay"
	roleAdmin   = "admin"
)

var ErrNotAdmin = errors.New("token does not grant admin")

// adminClaims are carried by operator tokens.
type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 admin token for subject valid for ttl.
func IssueAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("admin.jwt_secret is not set")
	}
	now := time.Now()
	claims := adminClaims{
		Role: roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAdminToken validates raw and returns its subject.
func ParseAdminToken(secret, raw string) (string, error) {
	if secret == "" {
		return "", errors.New("admin.jwt_secret is not set")
	}
	var claims adminClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("parse admin token: %w", err)
	}
	if claims.Role != roleAdmin {
		return "", ErrNotAdmin
	}
	return claims.Subject, nil
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AdminLogin exchanges operator credentials for an admin token.
func (h *Handler) AdminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "error", "invalid request")
		return
	}

	if h.Admin.Username == "" || h.Admin.PasswordHash == "" ||
		req.Username != h.Admin.Username ||
		bcrypt.CompareHashAndPassword([]byte(h.Admin.PasswordHash), []byte(req.Password)) != nil {
		logger(c).Warn().Str("username", req.Username).Msg("admin login rejected")
		h.fail(c, http.StatusUnauthorized, "error", "invalid credentials")
		return
	}

	ttl := h.Admin.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	token, err := IssueAdminToken(h.Admin.JWTSecret, req.Username, ttl)
	if err != nil {
		logger(c).Error().Err(err).Msg("failed to issue admin token")
		h.fail(c, http.StatusInternalServerError, "error", "internal error")
		return
	}

	logger(c).Info().Str("username", req.Username).Msg("admin logged in")
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}
