package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aksara-lms/proctor-backend/internal/attempt"
	"github.com/aksara-lms/proctor-backend/internal/auth"
	"github.com/aksara-lms/proctor-backend/internal/config"
	"github.com/aksara-lms/proctor-backend/internal/middleware"
	"github.com/aksara-lms/proctor-backend/internal/repository"
	"github.com/aksara-lms/proctor-backend/internal/response"
	"github.com/aksara-lms/proctor-backend/internal/session"
	"github.com/aksara-lms/proctor-backend/internal/validator"
	"github.com/aksara-lms/proctor-backend/internal/ws"
)

// AttemptHandler serves the REST side of the attempt lifecycle: start,
// state snapshot, session preflight and the invigilator progress view.
type AttemptHandler struct {
	registry    *attempt.Registry
	sessions    *session.Validator
	authService *auth.Service
	examRepo    *repository.ExamRepository
	cfg         *config.Config
	log         zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(
	registry *attempt.Registry,
	sessions *session.Validator,
	authService *auth.Service,
	examRepo *repository.ExamRepository,
	cfg *config.Config,
	log zerolog.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		registry:    registry,
		sessions:    sessions,
		authService: authService,
		examRepo:    examRepo,
		cfg:         cfg,
		log:         log.With().Str("component", "attempt_handler").Logger(),
	}
}

type startAttemptRequest struct {
	SessionToken  string `json:"session_token" binding:"required"`
	DeviceHash    string `json:"device_hash" binding:"required"`
	EntryPassword string `json:"entry_password"`
}

type startAttemptResponse struct {
	Token                    string           `json:"token"`
	HeartbeatIntervalSeconds int              `json:"heartbeat_interval_seconds"`
	State                    ws.StateResponse `json:"state"`
}

// StartAttempt godoc
// POST /api/v1/exams/:exam_id/attempt/start
// Validates the session and entry password, mints the attempt token and
// starts (or resumes) the runtime.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req startAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result := h.sessions.Validate(c.Request.Context(), examID, req.SessionToken, req.DeviceHash)
	if !result.Valid {
		h.failSession(c, result.Status)
		return
	}

	exam, err := h.examRepo.GetByID(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if exam.EntryPasswordHash != "" {
		if err := h.authService.CheckPassword(exam.EntryPasswordHash, req.EntryPassword); err != nil {
			response.Fail(c, http.StatusUnauthorized, response.ErrEntryPassword)
			return
		}
	}

	rt, err := h.registry.StartOrResume(c.Request.Context(), examID, result.StudentID)
	if err != nil {
		switch err {
		case attempt.ErrAlreadySubmitted:
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
		default:
			h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("attempt start failed")
			response.Fail(c, http.StatusForbidden, response.ErrExamNotAvailable)
		}
		return
	}

	token, err := h.authService.GenerateAttemptToken(result.StudentID, examID, req.SessionToken, req.DeviceHash)
	if err != nil {
		h.log.Error().Err(err).Msg("token mint failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, startAttemptResponse{
		Token:                    token,
		HeartbeatIntervalSeconds: int(h.cfg.HeartbeatInterval.Seconds()),
		State:                    rt.State(),
	})
}

// GetState godoc
// GET /api/v1/attempt/state
// Returns the authoritative attempt snapshot for the authenticated student.
func (h *AttemptHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}
	examID, err := uuid.Parse(claims.ExamID)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}

	rt, ok := h.registry.Lookup(examID, claims.StudentID)
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
		return
	}
	response.Success(c, http.StatusOK, rt.State())
}

type validateSessionRequest struct {
	SessionToken string `json:"session_token" binding:"required"`
	DeviceHash   string `json:"device_hash" binding:"required"`
}

// ValidateSession godoc
// POST /api/v1/exams/:exam_id/session/validate
// Preflight check the shell runs before showing the permission screen, so
// an expired or stolen session fails fast with a precise status.
func (h *AttemptHandler) ValidateSession(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req validateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result := h.sessions.Validate(c.Request.Context(), examID, req.SessionToken, req.DeviceHash)
	response.Success(c, http.StatusOK, result)
}

// GetProgress godoc
// GET /api/v1/invigilator/exams/:exam_id/progress
// Read-only invigilator view: per-attempt answered and violation counts,
// live numbers for attempts that are still running.
func (h *AttemptHandler) GetProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	if claims == nil || claims.ExamID != examID.String() {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	rows, err := h.registry.ProgressByExam(c.Request.Context(), examID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("progress query failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, rows)
}

func (h *AttemptHandler) failSession(c *gin.Context, status session.Status) {
	switch status {
	case session.StatusExpired:
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionExpired)
	case session.StatusDeviceMismatch:
		response.Fail(c, http.StatusUnauthorized, response.ErrDeviceMismatch)
	case session.StatusNotFound:
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionNotFound)
	default:
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionInvalid)
	}
}
