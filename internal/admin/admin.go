package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"trader-agent/internal/ledger"
	"trader-agent/internal/logger"
	"trader-agent/internal/scheduler"
	"trader-agent/internal/store"
)

// Server is the local control surface: worker start/stop, on-demand runs,
// decision history and budget status. It is not an outward-facing API.
type Server struct {
	echo      *echo.Echo
	addr      string
	mode      string
	tracked   []string
	scheduler *scheduler.Scheduler
	store     *store.Store
	ledger    *ledger.Ledger
}

func NewServer(addr, mode string, tracked []string, sched *scheduler.Scheduler, st *store.Store, led *ledger.Ledger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		addr:      addr,
		mode:      mode,
		tracked:   tracked,
		scheduler: sched,
		store:     st,
		ledger:    led,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/status", s.status)
	s.echo.GET("/decisions", s.decisions)
	s.echo.POST("/run/:symbol", s.runNow)
	s.echo.POST("/workers/:symbol/start", s.startWorker)
	s.echo.POST("/workers/:symbol/stop", s.stopWorker)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	err := s.echo.Start(s.addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type budgetView struct {
	Used int `json:"used"`
	Max  int `json:"max"`
}

func (s *Server) status(c echo.Context) error {
	ctx := c.Request().Context()

	budgets := make(map[string]budgetView, len(s.tracked))
	for _, sym := range s.tracked {
		used, err := s.ledger.CountToday(ctx, sym)
		if err != nil {
			logger.ErrorWithErr(ctx, "Budget read failed", err, "symbol", sym)
			continue
		}
		budgets[sym] = budgetView{Used: used, Max: s.ledger.Max()}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"mode":        s.mode,
		"instruments": s.tracked,
		"workers":     s.scheduler.Status(),
		"budgets":     budgets,
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) decisions(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	recs, err := s.store.RecentDecisions(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"decisions": recs, "count": len(recs)})
}

func (s *Server) runNow(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))

	err := s.scheduler.TriggerNow(c.Request().Context(), symbol)
	switch {
	case errors.Is(err, scheduler.ErrRunInFlight):
		return c.JSON(http.StatusConflict, map[string]string{"error": "run already in flight", "symbol": symbol})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error(), "symbol": symbol})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "completed", "symbol": symbol})
}

func (s *Server) startWorker(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))

	err := s.scheduler.Start(context.Background(), symbol)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "worker already running", "symbol": symbol})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "running", "symbol": symbol})
}

func (s *Server) stopWorker(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))

	err := s.scheduler.Stop(symbol)
	if errors.Is(err, scheduler.ErrNotRunning) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "worker not running", "symbol": symbol})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopped", "symbol": symbol})
}
