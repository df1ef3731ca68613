package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/annotree/internal/annotate"
	"github.com/mohammad-safakhou/annotree/internal/session"
)

type AnnotationHandler struct {
	sessions *session.Manager
}

func NewAnnotationHandler(m *session.Manager) *AnnotationHandler {
	if m == nil {
		return nil
	}
	return &AnnotationHandler{sessions: m}
}

func (h *AnnotationHandler) Register(g *echo.Group) {
	if h == nil {
		return
	}
	g.POST("/annotate", h.annotate)
	g.POST("/sessions", h.open)
	g.POST("/sessions/:id/annotations", h.submit)
	g.POST("/sessions/:id/finalize", h.finalize)
	g.DELETE("/sessions/:id", h.abandon)
}

type openRequest struct {
	DocumentID string `json:"documentId"`
	URL        string `json:"url,omitempty"`
}

type sessionResponse struct {
	SessionID  string    `json:"sessionId"`
	DocumentID string    `json:"documentId"`
	State      string    `json:"state"`
	Deadline   time.Time `json:"deadline"`
}

type submitResponse struct {
	SessionID string             `json:"sessionId"`
	State     string             `json:"state"`
	Applied   []annotate.Applied `json:"applied"`
}

// annotate runs a whole batch: the document named by the batch is loaded,
// annotated and written out in one call.
func (h *AnnotationHandler) annotate(c echo.Context) error {
	var batch annotate.Batch
	if err := c.Bind(&batch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.sessions.Process(c.Request().Context(), batch)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *AnnotationHandler) open(c echo.Context) error {
	var req openRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	s, err := h.sessions.Open(ctx, req.DocumentID)
	if err != nil {
		return httpError(err)
	}
	source := req.URL
	if source == "" {
		source = req.DocumentID
	}
	if err := s.Load(ctx, source); err != nil {
		_ = s.Abandon(ctx)
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sessionResponse{
		SessionID:  s.ID,
		DocumentID: s.DocumentID,
		State:      s.State().String(),
		Deadline:   s.Deadline(),
	})
}

func (h *AnnotationHandler) submit(c echo.Context) error {
	ctx := c.Request().Context()
	s, err := h.sessions.Get(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	var group annotate.PageGroup
	if err := c.Bind(&group); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	anns, err := group.Resolve()
	if err != nil {
		return httpError(err)
	}
	applied, err := s.SubmitAll(ctx, anns)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, submitResponse{SessionID: s.ID, State: s.State().String(), Applied: applied})
}

func (h *AnnotationHandler) finalize(c echo.Context) error {
	ctx := c.Request().Context()
	s, err := h.sessions.Get(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	res, err := s.Finalize(ctx)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *AnnotationHandler) abandon(c echo.Context) error {
	ctx := c.Request().Context()
	s, err := h.sessions.Get(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if err := s.Abandon(ctx); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
