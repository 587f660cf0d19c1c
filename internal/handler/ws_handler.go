package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aksara-lms/proctor-backend/internal/attempt"
	"github.com/aksara-lms/proctor-backend/internal/config"
	"github.com/aksara-lms/proctor-backend/internal/evidence"
	"github.com/aksara-lms/proctor-backend/internal/middleware"
	"github.com/aksara-lms/proctor-backend/internal/model"
	"github.com/aksara-lms/proctor-backend/internal/session"
	"github.com/aksara-lms/proctor-backend/internal/ws"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allow-list permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// connSink adapts one WebSocket connection to the runtime's event sink.
// The runtime emits from timer goroutines as well as the read loop, and
// gorilla connections do not allow concurrent writers, hence the mutex.
type connSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  zerolog.Logger
}

func (s *connSink) Emit(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ws.WriteTyped(s.conn, v); err != nil {
		s.log.Debug().Err(err).Msg("event write failed")
	}
}

// WSHandler bridges the attempt WebSocket stream to the runtime.
type WSHandler struct {
	registry *attempt.Registry
	sessions *session.Validator
	cfg      *config.Config
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(registry *attempt.Registry, sessions *session.Validator, cfg *config.Config, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		registry: registry,
		sessions: sessions,
		cfg:      cfg,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(cfg.AllowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/exams/:exam_id/stream
// Upgrades to WebSocket and pumps attempt events both ways until the
// connection drops or the attempt submits.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil || claims.ExamID != examID.String() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	rt, err := h.registry.StartOrResume(c.Request.Context(), examID, claims.StudentID)
	if err != nil {
		status := http.StatusForbidden
		if err == attempt.ErrAlreadySubmitted {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	// The frame message is the biggest thing the shell sends; base64 adds
	// a third on top of the binary limit.
	ws.Prepare(conn, h.cfg.MaxFrameBytes*2)

	wsLog := h.log.With().
		Int("student_id", claims.StudentID).
		Str("exam_id", examID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	// Session keep-alive for the lifetime of this connection.
	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hb := session.NewHeartbeat(h.sessions, h.cfg.HeartbeatInterval, wsLog)
	go hb.Run(connCtx, examID, claims.SessionToken)

	sink := &connSink{conn: conn, log: wsLog}
	rt.Attach(sink)
	defer rt.Detach()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		h.dispatch(rt, sink, wsLog, raw)
		if rt.Submitted() {
			// The terminal events are already out; close the stream.
			break
		}
	}

	// Submission ends the session record as well; a disconnect mid-exam
	// leaves it alive for the resume path.
	if rt.Submitted() {
		if err := h.sessions.End(context.Background(), examID, claims.SessionToken); err != nil {
			wsLog.Warn().Err(err).Msg("session end failed")
		}
	}
}

func (h *WSHandler) dispatch(rt *attempt.Runtime, sink *connSink, log zerolog.Logger, raw []byte) {
	var envelope ws.RequestEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: "malformed message"})
		return
	}

	switch envelope.Action {
	case ws.ActionAnswerEdit:
		var req ws.AnswerEditRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: "malformed answer_edit"})
			return
		}
		qid, err := uuid.Parse(req.QID)
		if err != nil {
			sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: "invalid q_id format"})
			return
		}
		if err := rt.EditAnswer(qid, req.Value); err != nil {
			sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: err.Error()})
		}

	case ws.ActionAnswerToggle:
		var req ws.AnswerToggleRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: "malformed answer_toggle"})
			return
		}
		qid, err := uuid.Parse(req.QID)
		if err != nil {
			sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: "invalid q_id format"})
			return
		}
		if err := rt.ToggleAnswer(qid, req.Key); err != nil {
			sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: err.Error()})
		}

	case ws.ActionAnswerSave:
		var req ws.AnswerSaveRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: "malformed answer_save"})
			return
		}
		qid, err := uuid.Parse(req.QID)
		if err != nil {
			sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: "invalid q_id format"})
			return
		}
		if err := rt.SaveAnswer(qid); err != nil {
			sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: err.Error()})
		}

	case ws.ActionNavigate:
		var req ws.NavigateRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return
		}
		if qid, err := uuid.Parse(req.FromQID); err == nil {
			rt.Navigate(qid)
		}

	case ws.ActionCapability:
		var req ws.CapabilityRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return
		}
		rt.SetCapability(req.Capability, req.Active)

	case ws.ActionViolation:
		var req ws.ViolationRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return
		}
		vtype, ok := parseViolationType(req.Type)
		if !ok {
			log.Warn().Str("type", req.Type).Msg("unknown violation type")
			sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: "unknown violation type"})
			return
		}
		rt.ReportViolation(vtype, req.Details)

	case ws.ActionFrame:
		var req ws.FrameRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return
		}
		blob, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: "invalid frame encoding"})
			return
		}
		rt.SubmitFrame(evidence.FrameMeta{
			Stream:  evidence.StreamType(req.Stream),
			Width:   req.Width,
			Height:  req.Height,
			Live:    req.Live,
			Visible: req.Visible,
			Trigger: req.Trigger,
		}, blob)

	case ws.ActionBeginExam:
		if err := rt.BeginExam(); err != nil {
			sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: err.Error()})
		}

	case ws.ActionContinue:
		rt.Continue()

	case ws.ActionSubmit:
		rt.Submit()

	case ws.ActionPing:
		sink.Emit(ws.PongResponse{Event: ws.EventPong})

	default:
		log.Warn().Str("action", string(envelope.Action)).Msg("Unknown action")
		sink.Emit(ws.ErrorResponse{Event: ws.EventError, Error: "unknown action: " + string(envelope.Action)})
	}
}

var violationTypes = map[string]model.ViolationType{
	string(model.ViolationTabSwitch):      model.ViolationTabSwitch,
	string(model.ViolationWindowBlur):     model.ViolationWindowBlur,
	string(model.ViolationCopyPaste):      model.ViolationCopyPaste,
	string(model.ViolationRightClick):     model.ViolationRightClick,
	string(model.ViolationScreenshotKey):  model.ViolationScreenshotKey,
	string(model.ViolationDevtoolsKey):    model.ViolationDevtoolsKey,
	string(model.ViolationWebcamOff):      model.ViolationWebcamOff,
	string(model.ViolationScreenShareOff): model.ViolationScreenShareOff,
	string(model.ViolationFullscreenExit): model.ViolationFullscreenExit,
}

func parseViolationType(s string) (model.ViolationType, bool) {
	t, ok := violationTypes[s]
	return t, ok
}
