package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/go-news-aggregator/session-service/internal/errors"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/http/middleware"
	"github.com/pribylovaa/go-news-aggregator/session-service/internal/service"
)

const (
	msgRegistered     = "registration successful; check your email to verify the account"
	msgRegisteredOpen = "registration successful"
	msgLoggedOut      = "logged out"
	msgVerifySent     = "if the account exists and is not verified, a verification email has been sent"
	msgResetSent      = "if the account exists, a password reset email has been sent"
	msgResetTokenOK   = "reset token is valid"
	msgPasswordReset  = "password has been reset"
	msgPasswordChange = "password has been changed"
)

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	user, err := h.svc.Register(r.Context(), service.RegisterInput{
		Email:    in.Email,
		Username: in.Username,
		Password: in.Password,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	msg := msgRegistered
	if user.EmailVerified {
		msg = msgRegisteredOpen
	}

	writeJSON(w, http.StatusCreated, registerResponse{User: userFromModel(user), Message: msg})
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	pair, user, err := h.svc.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{tokenPairResponse: pairFromModel(pair), User: userFromModel(user)})
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	pair, err := h.svc.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pairFromModel(pair))
}

// Logout отвечает 200 и для неизвестного/отозванного токена.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	if err := h.svc.Logout(r.Context(), in.RefreshToken); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: msgLoggedOut})
}

// LogoutAll — защищённый маршрут (AuthBearer).
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
		return
	}

	n, err := h.svc.LogoutAll(r.Context(), claims.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, logoutAllResponse{Revoked: n})
}

// Sessions — защищённый маршрут (AuthBearer).
func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
		return
	}

	sessions, err := h.svc.ListSessions(r.Context(), claims.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessionsFromModels(sessions)})
}

// Me — защищённый маршрут (AuthBearer): профиль владельца access-токена
// из хранилища, а не из claims.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
		return
	}

	user, err := h.svc.CurrentUser(r.Context(), claims.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: userFromModel(user)})
}

func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	var in tokenRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	claims, err := h.svc.ValidateAccessToken(r.Context(), in.Token)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, validateFromClaims(claims))
}

func (h *Handlers) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var in tokenRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	user, err := h.svc.VerifyEmail(r.Context(), in.Token)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userFromModel(user))
}

func (h *Handlers) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	if err := h.svc.ResendVerification(r.Context(), in.Email); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: msgVerifySent})
}

func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), in.Email); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: msgResetSent})
}

func (h *Handlers) CheckResetToken(w http.ResponseWriter, r *http.Request) {
	var in tokenRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	if err := h.svc.CheckResetToken(r.Context(), in.Token); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: msgResetTokenOK})
}

func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var in resetPasswordRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	if err := h.svc.ResetPassword(r.Context(), in.Token, in.NewPassword); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: msgPasswordReset})
}

// ChangePassword — защищённый маршрут (AuthBearer). Сессия вызывающего
// определяется refresh-токеном из тела или заголовка X-Refresh-Token;
// без него отзываются все сессии.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
		return
	}

	var in changePasswordRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	current := in.RefreshToken
	if current == "" {
		current = r.Header.Get("X-Refresh-Token")
	}

	if err := h.svc.ChangePassword(r.Context(), claims.UserID, in.CurrentPassword, in.NewPassword, current); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: msgPasswordChange})
}
