package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/assessment"
	"github.com/stemsi/exstem-screening/internal/middleware"
	"github.com/stemsi/exstem-screening/internal/model"
	"github.com/stemsi/exstem-screening/internal/response"
	"github.com/stemsi/exstem-screening/internal/service"
	"github.com/stemsi/exstem-screening/internal/validator"
	ws "github.com/stemsi/exstem-screening/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty slice permits all origins (development mode).
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

// SessionHandler hosts proctored assessment sessions.
type SessionHandler struct {
	proctor      *service.ProctorService
	catalogs     *service.CatalogService
	applications *service.ApplicationService
	log          zerolog.Logger
	upgrader     websocket.Upgrader
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	proctor *service.ProctorService,
	catalogs *service.CatalogService,
	applications *service.ApplicationService,
	log zerolog.Logger,
	allowedOrigins []string,
) *SessionHandler {
	return &SessionHandler{
		proctor:      proctor,
		catalogs:     catalogs,
		applications: applications,
		log:          log.With().Str("component", "session_handler").Logger(),
		upgrader:     buildUpgrader(allowedOrigins),
	}
}

// AssessmentOverview is what a subject sees before starting.
type AssessmentOverview struct {
	AssessmentID   uuid.UUID      `json:"assessment_id"`
	JobID          uuid.UUID      `json:"job_id"`
	Title          string         `json:"title"`
	TimeBudgetSecs int            `json:"time_budget_seconds"`
	QuestionCount  int            `json:"question_count"`
	Skills         []SkillSummary `json:"skills"`
	AlreadyApplied bool           `json:"already_applied"`
}

// SkillSummary names a skill and how many questions assess it.
type SkillSummary struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	QuestionCount int    `json:"question_count"`
}

// GetAssessment godoc
// GET /api/v1/subject/assessments/:assessment_id
func (h *SessionHandler) GetAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	catalog, err := h.catalogs.FetchCatalog(c.Request.Context(), assessmentID)
	if err != nil {
		h.failCatalog(c, err)
		return
	}

	applied, err := h.applications.HasApplied(c.Request.Context(), claims.SubjectID, catalog.JobID)
	if err != nil {
		h.log.Error().Err(err).Msg("Application check failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	overview := AssessmentOverview{
		AssessmentID:   catalog.AssessmentID,
		JobID:          catalog.JobID,
		Title:          catalog.Title,
		TimeBudgetSecs: assessment.SeedSeconds(catalog.TimeBudget),
		QuestionCount:  catalog.QuestionCount(),
		Skills:         make([]SkillSummary, 0, len(catalog.Skills)),
		AlreadyApplied: applied,
	}
	for _, s := range catalog.Skills {
		overview.Skills = append(overview.Skills, SkillSummary{ID: s.ID, Name: s.Name, QuestionCount: len(s.Questions)})
	}
	response.Success(c, http.StatusOK, overview)
}

func (h *SessionHandler) failCatalog(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAssessmentNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAssessmentNotFound)
	case errors.Is(err, service.ErrAssessmentNotPublished):
		response.Fail(c, http.StatusForbidden, response.ErrAssessmentNotPublished)
	default:
		h.log.Error().Err(err).Msg("Catalog fetch failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// GetSessionState godoc
// GET /api/v1/subject/assessments/:assessment_id/session
// Returns the snapshot of the subject's live session on this instance.
func (h *SessionHandler) GetSessionState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	snap, err := h.proctor.Snapshot(claims.SubjectID, assessmentID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNoLiveSession)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// SessionStream godoc
// WS /ws/v1/subject/assessments/:assessment_id/session?token=...&job_id=...
// Hosts one live session for the lifetime of the connection.
func (h *SessionHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	var jobID uuid.UUID
	if raw := c.Query("job_id"); raw != "" {
		if jobID, err = uuid.Parse(raw); err != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
				map[string]string{"job_id": "job_id must be a UUID"})
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("subject_id", claims.SubjectID).
		Str("assessment_id", assessmentID.String()).
		Logger()

	agent := newWSAgent(conn, wsLog)
	go agent.writePump()
	defer agent.close()

	// The request context ends once the connection is hijacked.
	ls, err := h.proctor.Open(context.Background(), claims.SubjectID, assessmentID, jobID, agent)
	if err != nil {
		code := response.ErrInternal
		if errors.Is(err, service.ErrSessionActive) {
			code = response.ErrSessionActive
		} else {
			wsLog.Error().Err(err).Msg("Failed to open session")
		}
		agent.sendError(string(code))
		agent.finish()
		<-agent.done
		return
	}
	agent.bind(ls.Loop)
	defer h.proctor.Close(ls)

	// A session closed from elsewhere, such as server shutdown, ends the
	// connection too.
	go func() {
		select {
		case <-ls.Loop.Done():
			agent.finish()
		case <-agent.done:
		}
	}()

	wsLog.Info().Msg("Subject connected")

	for {
		data, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		h.dispatch(agent, ls, wsLog, data)
	}
}

// dispatch routes one inbound frame to the agent or the session.
func (h *SessionHandler) dispatch(agent *wsAgent, ls *service.LiveSession, log zerolog.Logger, data []byte) {
	action, req, err := ws.DecodeRequest(data)
	if err != nil {
		log.Debug().Err(err).Str("action", string(action)).Msg("Rejected frame")
		agent.sendError(err.Error())
		return
	}
	if fields := validator.Struct(req); fields != nil {
		agent.sendError(string(response.ErrValidation) + ": " + joinFields(fields))
		return
	}

	switch r := req.(type) {
	case *ws.CameraGrantedRequest:
		agent.deliverCamera(cameraReply{granted: true, streamID: r.StreamID, tracks: r.Tracks})
	case *ws.CameraDeniedRequest:
		agent.deliverCamera(cameraReply{reason: r.Reason})
	case *ws.FullscreenChangeRequest:
		agent.report(func(l assessment.Listener) { l.FullscreenChanged(r.Active) })
	case *ws.FullscreenErrorRequest:
		agent.report(func(l assessment.Listener) { l.FullscreenRejected(r.Reason) })
	case *ws.BlockedInputRequest:
		agent.report(func(l assessment.Listener) { l.InputBlocked(assessment.InputKind(r.Kind), r.Combo) })
	case *ws.SelectAnswerRequest:
		letter, ok := model.ParseLetter(r.Answer)
		if !ok {
			agent.sendError(assessment.ErrInvalidChoice.Error())
			return
		}
		ls.Post(func(s *assessment.Session) {
			if err := s.SelectAnswer(r.QID, letter); err != nil {
				agent.sendError(err.Error())
			}
		})
	case *ws.GoToRequest:
		ls.Post(func(s *assessment.Session) { s.GoTo(*r.Index) })
	case *ws.ConfirmRequest:
		ls.Post(func(s *assessment.Session) { s.ResolveConfirmation(r.Proceed) })
	case *ws.BareRequest:
		h.dispatchBare(agent, ls, action)
	}
}

func (h *SessionHandler) dispatchBare(agent *wsAgent, ls *service.LiveSession, action ws.Action) {
	switch action {
	case ws.ActionVisibilityHidden:
		agent.report(func(l assessment.Listener) { l.VisibilityHidden() })
	case ws.ActionWindowBlur:
		agent.report(func(l assessment.Listener) { l.WindowBlurred() })
	case ws.ActionStart:
		ls.Post(func(s *assessment.Session) { s.Start() })
	case ws.ActionNext:
		ls.Post(func(s *assessment.Session) { s.GoToNext() })
	case ws.ActionPrevious:
		ls.Post(func(s *assessment.Session) { s.GoToPrevious() })
	case ws.ActionSubmit:
		ls.Post(func(s *assessment.Session) { s.Submit(model.TriggerManual) })
	case ws.ActionRetry:
		ls.Post(func(s *assessment.Session) { s.Retry() })
	case ws.ActionPing:
		agent.send(ws.SignalResponse{Event: ws.EventPong})
	}
}

func joinFields(fields map[string]string) string {
	parts := make([]string, 0, len(fields))
	for _, msg := range fields {
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
