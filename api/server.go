// Package api is the HTTP surface: search submission, polling reads
// and xlsx export, all behind bearer-token auth.
package api

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/zipcase/zipcase"
	"github.com/zipcase/zipcase/export"
	"github.com/zipcase/zipcase/metrics"
	"github.com/zipcase/zipcase/search"
	"github.com/zipcase/zipcase/status"
	"github.com/zipcase/zipcase/store"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type Server struct {
	app       *fiber.App
	store     *store.Store
	processor *search.Processor
	checker   *status.Checker
	exporter  *export.Exporter
	validate  *validator.Validate
	logger    logrus.FieldLogger
}

func NewServer(st *store.Store, processor *search.Processor, checker *status.Checker, exporter *export.Exporter, jwtSecret []byte, logger logrus.FieldLogger) *Server {
	s := &Server{
		store:     st,
		processor: processor,
		checker:   checker,
		exporter:  exporter,
		validate:  validator.New(),
		logger:    logger,
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	app.Use(s.countRequests)

	app.Get("/healthz", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authed := app.Group("/", requireAuth(jwtSecret))
	authed.Post("/search", s.handleSearch)
	authed.Post("/name-search", s.handleNameSearch)
	authed.Get("/name-search/:searchId", s.handleNameSearchStatus)
	authed.Post("/status", s.handleStatus)
	authed.Get("/case/:caseNumber", s.handleCase)
	authed.Post("/export", s.handleExport)

	s.app = app
	return s
}

// App exposes the fiber app for tests and the serve command.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}
	if code >= 500 {
		s.logger.WithError(err).WithField("path", c.Path()).Error("request failed")
		return c.Status(code).JSON(errorResponse{Error: zipcase.MsgInternal})
	}
	return c.Status(code).JSON(errorResponse{Error: zipcase.MsgInternal, Message: err.Error()})
}

func (s *Server) countRequests(c *fiber.Ctx) error {
	err := c.Next()
	statusClass := strconv.Itoa(c.Response().StatusCode()/100) + "xx"
	metrics.HTTPRequests.WithLabelValues(c.Route().Path, statusClass).Inc()
	return err
}

// parseBody decodes and validates a JSON request body. On failure the
// 400 response is already written and the handler must stop.
func (s *Server) parseBody(c *fiber.Ctx, out interface{}) bool {
	if err := c.BodyParser(out); err != nil {
		_ = badRequest(c, "malformed request body")
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		_ = badRequest(c, err.Error())
		return false
	}
	return true
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid_request", Message: msg})
}

// userAgent picks the client-supplied agent or rotates the user's bank.
func (s *Server) userAgent(c *fiber.Ctx, requested, userID string) string {
	if requested != "" {
		return requested
	}
	agent, err := s.store.NextUserAgent(c.Context(), userID)
	if err != nil {
		s.logger.WithError(err).WithField("userId", userID).Warn("user agent rotation failed")
		return ""
	}
	return agent
}

type searchRequest struct {
	Search    string `json:"search" validate:"required"`
	UserAgent string `json:"userAgent"`
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	var req searchRequest
	if !s.parseBody(c, &req) {
		return nil
	}
	userID := requestUserID(c)

	results, err := s.processor.ProcessSearch(c.Context(), req.Search, userID, s.userAgent(c, req.UserAgent, userID))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"results": results})
}

type nameSearchRequest struct {
	Name         string `json:"name" validate:"required"`
	DateOfBirth  string `json:"dateOfBirth"`
	SoundsLike   bool   `json:"soundsLike"`
	CriminalOnly bool   `json:"criminalOnly"`
	UserAgent    string `json:"userAgent"`
}

func (s *Server) handleNameSearch(c *fiber.Ctx) error {
	var req nameSearchRequest
	if !s.parseBody(c, &req) {
		return nil
	}
	userID := requestUserID(c)

	searchID, err := s.processor.ProcessNameSearch(c.Context(), search.NameSearchRequest{
		Name:         req.Name,
		UserID:       userID,
		DateOfBirth:  req.DateOfBirth,
		SoundsLike:   req.SoundsLike,
		CriminalOnly: req.CriminalOnly,
		UserAgent:    s.userAgent(c, req.UserAgent, userID),
	})
	if errors.Is(err, search.ErrUnparseableName) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "unparseable name",
		})
	}
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"searchId": searchID,
		"results":  fiber.Map{},
		"success":  true,
	})
}

func (s *Server) handleNameSearchStatus(c *fiber.Ctx) error {
	userID := requestUserID(c)
	result, err := s.checker.GetNameSearchStatus(c.Context(), c.Params("searchId"), userID, s.userAgent(c, "", userID))
	if err != nil {
		return err
	}
	if result == nil {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: zipcase.MsgNotFound})
	}
	return c.JSON(result)
}

type statusRequest struct {
	CaseNumbers []string `json:"caseNumbers" validate:"required,min=1"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	var req statusRequest
	if !s.parseBody(c, &req) {
		return nil
	}
	userID := requestUserID(c)

	results, err := s.checker.GetCasesStatus(c.Context(), req.CaseNumbers, userID, s.userAgent(c, "", userID))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"results": results})
}

func (s *Server) handleCase(c *fiber.Ctx) error {
	userID := requestUserID(c)
	result, err := s.checker.GetCaseStatus(c.Context(), c.Params("caseNumber"), userID, s.userAgent(c, "", userID))
	if err != nil {
		return err
	}
	if result == nil {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: zipcase.MsgNotFound})
	}
	return c.JSON(result)
}

type exportRequest struct {
	CaseNumbers []string `json:"caseNumbers" validate:"required,min=1"`
}

func (s *Server) handleExport(c *fiber.Ctx) error {
	var req exportRequest
	if !s.parseBody(c, &req) {
		return nil
	}

	result, err := s.exporter.Export(c.Context(), req.CaseNumbers)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+result.Filename+`"`)
	return c.Send(result.Data)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if err := s.store.Ping(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
