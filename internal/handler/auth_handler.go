package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"beautycort-auth/internal/models"
	"beautycort-auth/internal/service"
	"beautycort-auth/internal/util"
)

// AuthHandler exposes the OTP, lockout, and token operations to the booking
// backend. This is an internal service: OTP delivery (SMS/WhatsApp) and JWT
// signature verification belong to the caller, not here.
type AuthHandler struct {
	otpService     *service.OTPService
	lockoutService *service.LockoutService
	tokenService   *service.TokenService
	logger         *zap.Logger
}

func NewAuthHandler(otpService *service.OTPService, lockoutService *service.LockoutService, tokenService *service.TokenService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		otpService:     otpService,
		lockoutService: lockoutService,
		tokenService:   tokenService,
		logger:         logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/request", h.RequestOTP)
		r.Post("/verify", h.VerifyOTP)
		r.Get("/status/{identity}", h.OTPStatus)
		r.Delete("/{identity}", h.ClearOTP)
	})

	router.Route("/lockouts", func(r chi.Router) {
		r.Get("/{identifier}/{lockoutType}", h.GetLockoutStatus)
		r.Post("/attempts", h.RecordFailedAttempt)
		r.Post("/reset", h.ResetAttempts)
		r.Post("/unlock", h.AdminUnlock)
	})

	router.Route("/tokens", func(r chi.Router) {
		r.Post("/blacklist", h.BlacklistToken)
		r.Post("/blacklist/check", h.CheckBlacklist)
		r.Post("/refresh", h.IssueRefreshToken)
		r.Post("/refresh/rotate", h.RotateRefreshToken)
		r.Post("/refresh/revoke", h.RevokeRefreshToken)
		r.Post("/refresh/revoke-family", h.RevokeTokenFamily)
	})

	router.Post("/users/{userID}/revoke-tokens", h.RevokeAllUserTokens)
}

type otpRequestBody struct {
	Identity string `json:"identity"`
}

// RequestOTP issues a code for the identity. The caller owns delivery, so
// the raw code is returned exactly once in this response.
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req otpRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	generation, err := h.otpService.Generate(ctx, req.Identity)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to generate OTP")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(generation, "OTP generated"))
}

type otpVerifyBody struct {
	Identity string `json:"identity"`
	Code     string `json:"code"`
}

type otpVerifyResult struct {
	Verified bool `json:"verified"`
}

// VerifyOTP is the guarded verification path: a locked identity is refused
// before the code is even looked at, failures feed the lockout counter, and
// success resets it.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req otpVerifyBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	status, err := h.lockoutService.GetStatus(ctx, req.Identity, models.LockoutTypeOTP)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to check lockout")
		return
	}
	if status.IsLocked {
		lockedErr := &service.LockedError{LockoutType: models.LockoutTypeOTP, LockedUntil: *status.LockedUntil}
		h.respondWithJSON(w, http.StatusLocked, errorResponse(lockedErr, "Account temporarily locked"))
		return
	}

	verifyErr := h.otpService.Verify(ctx, req.Identity, req.Code)
	if verifyErr == nil {
		if err := h.lockoutService.ResetAttempts(ctx, req.Identity, models.LockoutTypeOTP); err != nil {
			h.logger.Warn("Failed to reset lockout attempts after verification",
				util.ErrorField(err),
			)
		}
		h.respondWithJSON(w, http.StatusOK, successResponse(otpVerifyResult{Verified: true}, "OTP verified"))
		return
	}

	var invalidCode *service.InvalidCodeError
	if errors.As(verifyErr, &invalidCode) || errors.Is(verifyErr, service.ErrOTPAttemptsExhausted) {
		lockStatus, err := h.lockoutService.RecordFailedAttempt(ctx, req.Identity, models.LockoutTypeOTP)
		if err == nil && lockStatus.IsLocked {
			lockedErr := &service.LockedError{LockoutType: models.LockoutTypeOTP, LockedUntil: *lockStatus.LockedUntil}
			h.respondWithJSON(w, http.StatusLocked, errorResponse(lockedErr, "Account temporarily locked"))
			return
		}
	}

	h.respondWithError(w, h.getStatusCode(verifyErr), verifyErr, "OTP verification failed")
}

type otpStatusResult struct {
	HasValidOTP   bool   `json:"has_valid_otp"`
	RemainingTime string `json:"remaining_time,omitempty"`
}

func (h *AuthHandler) OTPStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := chi.URLParam(r, "identity")

	hasValid, err := h.otpService.HasValid(ctx, identity)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to check OTP status")
		return
	}

	result := otpStatusResult{HasValidOTP: hasValid}
	if hasValid {
		if remaining, err := h.otpService.RemainingTime(ctx, identity); err == nil {
			result.RemainingTime = remaining.Round(time.Second).String()
		}
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, ""))
}

// ClearOTP discards any active code, e.g. when the caller cancels a flow.
func (h *AuthHandler) ClearOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := chi.URLParam(r, "identity")

	if err := h.otpService.Clear(ctx, identity); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to clear OTP")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "OTP cleared"))
}

func (h *AuthHandler) GetLockoutStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")
	lockoutType := chi.URLParam(r, "lockoutType")

	status, err := h.lockoutService.GetStatus(ctx, identifier, lockoutType)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get lockout status")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(status, ""))
}

type lockoutAttemptBody struct {
	Identifier  string `json:"identifier"`
	LockoutType string `json:"lockout_type"`
}

// RecordFailedAttempt lets the booking backend report failures from flows it
// authenticates itself (password, MFA).
func (h *AuthHandler) RecordFailedAttempt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req lockoutAttemptBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	status, err := h.lockoutService.RecordFailedAttempt(ctx, req.Identifier, req.LockoutType)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to record attempt")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(status, ""))
}

type lockoutResetBody struct {
	Identifier   string   `json:"identifier"`
	LockoutTypes []string `json:"lockout_types,omitempty"`
}

func (h *AuthHandler) ResetAttempts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req lockoutResetBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.lockoutService.ResetAttempts(ctx, req.Identifier, req.LockoutTypes...); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to reset attempts")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Attempts reset"))
}

type adminUnlockBody struct {
	Identifier string `json:"identifier"`
	AdminID    string `json:"admin_id"`
}

func (h *AuthHandler) AdminUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req adminUnlockBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.lockoutService.AdminUnlock(ctx, req.Identifier, req.AdminID); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to unlock account")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Account unlocked"))
}

type blacklistBody struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

func (h *AuthHandler) BlacklistToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req blacklistBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.tokenService.Blacklist(ctx, req.Token, req.UserID, req.Reason); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to blacklist token")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Token blacklisted"))
}

type blacklistCheckBody struct {
	Token string `json:"token"`
}

type blacklistCheckResult struct {
	Blacklisted bool `json:"blacklisted"`
}

func (h *AuthHandler) CheckBlacklist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req blacklistCheckBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result := blacklistCheckResult{Blacklisted: h.tokenService.IsBlacklisted(ctx, req.Token)}
	h.respondWithJSON(w, http.StatusOK, successResponse(result, ""))
}

type refreshIssueBody struct {
	TokenID     string `json:"token_id"`
	UserID      string `json:"user_id"`
	TokenFamily string `json:"token_family,omitempty"`
}

func (h *AuthHandler) IssueRefreshToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refreshIssueBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	record, err := h.tokenService.IssueRefreshToken(ctx, req.TokenID, req.UserID, req.TokenFamily)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to issue refresh token")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(record, "Refresh token issued"))
}

type refreshRotateBody struct {
	OldTokenID string `json:"old_token_id"`
	NewTokenID string `json:"new_token_id"`
}

func (h *AuthHandler) RotateRefreshToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refreshRotateBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	record, err := h.tokenService.RotateRefreshToken(ctx, req.OldTokenID, req.NewTokenID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to rotate refresh token")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(record, "Refresh token rotated"))
}

type refreshRevokeBody struct {
	TokenID string `json:"token_id"`
}

func (h *AuthHandler) RevokeRefreshToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refreshRevokeBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.tokenService.RevokeRefreshToken(ctx, req.TokenID); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to revoke refresh token")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Refresh token revoked"))
}

type revokeFamilyBody struct {
	TokenFamily string `json:"token_family"`
}

func (h *AuthHandler) RevokeTokenFamily(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req revokeFamilyBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.tokenService.RevokeTokenFamily(ctx, req.TokenFamily); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to revoke token family")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Token family revoked"))
}

type revokeAllResult struct {
	SessionTokens int `json:"session_tokens"`
	RefreshTokens int `json:"refresh_tokens"`
}

// RevokeAllUserTokens is the compromise-response path: every session token
// is blacklisted and every refresh token revoked in one call.
func (h *AuthHandler) RevokeAllUserTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	sessions, err := h.tokenService.BlacklistAllUserTokens(ctx, userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to blacklist user tokens")
		return
	}

	refreshed, err := h.tokenService.RevokeAllUserRefreshTokens(ctx, userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to revoke user refresh tokens")
		return
	}

	result := revokeAllResult{SessionTokens: sessions, RefreshTokens: refreshed}
	h.respondWithJSON(w, http.StatusOK, successResponse(result, "User tokens revoked"))
}

// respondWithJSON sends a JSON response
func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *AuthHandler) getStatusCode(err error) int {
	var invalidCode *service.InvalidCodeError
	var locked *service.LockedError

	switch {
	case errors.As(err, &invalidCode):
		return http.StatusUnauthorized
	case errors.As(err, &locked):
		return http.StatusLocked
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrOTPNotFound), errors.Is(err, service.ErrRefreshTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrOTPExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrOTPAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, service.ErrOTPAttemptsExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrTokenReuseDetected):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
