package worker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/AvaProtocol/chainflow/core/apqueue"
	"github.com/AvaProtocol/chainflow/core/taskengine"
	"github.com/AvaProtocol/chainflow/model"
	"github.com/AvaProtocol/chainflow/version"
)

type HttpJsonResp[T any] struct {
	Data T `json:"data"`
}

type executionView struct {
	Execution *model.WorkflowExecution `json:"execution"`
	Nodes     []*model.NodeExecution   `json:"nodes"`
}

// newHttpServer serves health, queue depth and execution records
func newHttpServer(gw *apqueue.Gateway, repo taskengine.Repository) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HttpJsonResp[map[string]string]{
			Data: map[string]string{"status": "ok", "version": version.Get()},
		})
	})

	e.GET("/queues/stats", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stats, err := gw.Stats(ctx)
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(http.StatusOK, HttpJsonResp[*apqueue.QueueStats]{Data: stats})
	})

	e.GET("/executions/:id", func(c echo.Context) error {
		ctx := c.Request().Context()
		exec, err := repo.GetExecution(ctx, c.Param("id"))
		if errors.Is(err, taskengine.ErrExecutionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		if err != nil {
			return err
		}
		nodes, err := repo.ListNodeExecutions(ctx, exec.ID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, HttpJsonResp[*executionView]{Data: &executionView{Execution: exec, Nodes: nodes}})
	})

	return e
}
