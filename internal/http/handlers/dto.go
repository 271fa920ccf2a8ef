package handlers

import (
	"time"

	"github.com/pribylovaa/go-news-aggregator/session-service/internal/models"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/token"
)

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	RefreshToken    string `json:"refresh_token,omitempty"`
}

type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

func userFromModel(u *models.User) userResponse {
	return userResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		Username:      u.Username,
		Role:          string(u.Role),
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func pairFromModel(p *models.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

type loginResponse struct {
	tokenPairResponse
	User userResponse `json:"user"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type registerResponse struct {
	User    userResponse `json:"user"`
	Message string       `json:"message"`
}

type validateResponse struct {
	Valid         bool      `json:"valid"`
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func validateFromClaims(c *token.Claims) validateResponse {
	return validateResponse{
		Valid:         true,
		UserID:        c.UserID.String(),
		Email:         c.Email,
		Username:      c.Username,
		Role:          string(c.Role),
		EmailVerified: c.EmailVerified,
		ExpiresAt:     c.ExpiresAt,
	}
}

// sessionResponse — активная сессия. ID — префикс отпечатка refresh-токена,
// достаточный, чтобы различать сессии в списке.
type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

const sessionIDLen = 16

func sessionsFromModels(in []models.RefreshToken) []sessionResponse {
	out := make([]sessionResponse, 0, len(in))
	for _, s := range in {
		id := s.TokenHash
		if len(id) > sessionIDLen {
			id = id[:sessionIDLen]
		}
		out = append(out, sessionResponse{ID: id, CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt})
	}

	return out
}

type sessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type logoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

type messageResponse struct {
	Message string `json:"message"`
}
