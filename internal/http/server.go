package http

import (
	"context"
	"net/http"

	"github.com/ignatij/notiflow/pkg/models"
	"github.com/ignatij/notiflow/pkg/service"
	"github.com/ignatij/notiflow/pkg/storage"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Server exposes the workflow service over HTTP.
type Server struct {
	svc    *service.WorkflowService
	echo   *echo.Echo
	logger *logrus.Logger
}

type createWorkflowRequest struct {
	Name       string               `json:"name"`
	Steps      []models.StepSpec    `json:"steps"`
	Recurrence *models.ScheduleSpec `json:"recurrence,omitempty"`
}

type createTemplateRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type problemRequest struct {
	Text       string `json:"text"`
	TemplateID string `json:"template_id"`
}

type enqueuedTask struct {
	TaskID string `json:"task_id"`
	Order  int    `json:"order"`
}

func NewServer(svc *service.WorkflowService, logger *logrus.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			}).Info("request")
			return nil
		},
	}))

	s := &Server{svc: svc, echo: e, logger: logger}
	e.GET("/health", s.health)
	e.POST("/workflows", s.createWorkflow)
	e.GET("/workflows", s.listWorkflows)
	e.GET("/workflows/:id", s.getWorkflow)
	e.POST("/workflows/:id/plan", s.planWorkflow)
	e.POST("/workflows/:id/execute", s.executeWorkflow)
	e.POST("/workflows/:id/schedule", s.scheduleWorkflow)
	e.GET("/workflows/:id/logs", s.listLogs)
	e.POST("/templates", s.createTemplate)
	e.GET("/templates/:id", s.getTemplate)
	e.GET("/schedules", s.listSchedules)
	e.POST("/ai/problem-to-workflow", s.problemToWorkflow)
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(port string) error {
	s.logger.Infof("Starting notiflow server on :%s", port)
	err := s.echo.Start(":" + port)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// toHTTPError maps service errors onto status codes.
func (s *Server) toHTTPError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidSchedule),
		errors.Is(err, service.ErrInvalidStep),
		errors.Is(err, service.ErrUnknownStepType),
		errors.Is(err, service.ErrEmptyWorkflow):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrPoolStopped):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Errorf("Request failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// POST /workflows
func (s *Server) createWorkflow(c echo.Context) error {
	var req createWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	id, err := s.svc.CreateWorkflow(req.Name, req.Steps, req.Recurrence)
	if err != nil {
		return s.toHTTPError(err)
	}
	wf, err := s.svc.GetWorkflow(id)
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, wf)
}

// GET /workflows
func (s *Server) listWorkflows(c echo.Context) error {
	workflows, err := s.svc.ListWorkflows()
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// GET /workflows/:id
func (s *Server) getWorkflow(c echo.Context) error {
	wf, err := s.svc.GetWorkflow(c.Param("id"))
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, wf)
}

// POST /workflows/:id/plan
func (s *Server) planWorkflow(c echo.Context) error {
	plan, err := s.svc.PlanWorkflow(c.Param("id"))
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"plan": plan})
}

// POST /workflows/:id/execute
func (s *Server) executeWorkflow(c echo.Context) error {
	handles, err := s.svc.ExecuteWorkflow(c.Param("id"))
	if err != nil {
		return s.toHTTPError(err)
	}
	enqueued := make([]enqueuedTask, 0, len(handles))
	for _, h := range handles {
		enqueued = append(enqueued, enqueuedTask{TaskID: h.TaskID, Order: h.Order})
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"enqueued": enqueued})
}

// POST /workflows/:id/schedule
func (s *Server) scheduleWorkflow(c echo.Context) error {
	entry, err := s.svc.ScheduleWorkflow(c.Param("id"))
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"scheduled": true, "entry": entry})
}

// GET /workflows/:id/logs
func (s *Server) listLogs(c echo.Context) error {
	logs, err := s.svc.ListExecutionLogs(c.Param("id"))
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, logs)
}

// POST /templates
func (s *Server) createTemplate(c echo.Context) error {
	var req createTemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	id, err := s.svc.CreateTemplate(req.Name, req.Content)
	if err != nil {
		return s.toHTTPError(err)
	}
	tpl, err := s.svc.GetTemplate(id)
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, tpl)
}

// GET /templates/:id
func (s *Server) getTemplate(c echo.Context) error {
	tpl, err := s.svc.GetTemplate(c.Param("id"))
	if err != nil {
		return s.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, tpl)
}

// GET /schedules
func (s *Server) listSchedules(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Schedules())
}

// POST /ai/problem-to-workflow drafts a definition from free text; text and template_id
// may come from the JSON body or the query string.
func (s *Server) problemToWorkflow(c echo.Context) error {
	var req problemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request: "+err.Error())
	}
	if req.Text == "" {
		req.Text = c.QueryParam("text")
	}
	if req.TemplateID == "" {
		req.TemplateID = c.QueryParam("template_id")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing 'text'")
	}
	def := s.svc.BuildFromText(req.Text, req.TemplateID)
	return c.JSON(http.StatusOK, map[string]interface{}{"workflow_definition": def})
}
