package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/uicase/internal/agent"
	"github.com/osvaldoandrade/uicase/internal/middleware"
	"github.com/osvaldoandrade/uicase/internal/services"
	"github.com/osvaldoandrade/uicase/pkg/domain"

	"github.com/gin-gonic/gin"
)

// runIDHeader lets proxies and the tracing middleware see the run id
// without parsing the body.
const runIDHeader = "X-Run-Id"

type runCaseController struct{ svc services.RunService }

func NewRunCaseController(svc services.RunService) *runCaseController {
	return &runCaseController{svc}
}

func (h *runCaseController) Handle(c *gin.Context) {
	var req domain.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, "invalid body", gin.H{"detail": err.Error()})
		return
	}

	resp, err := h.svc.Run(c.Request.Context(), req)
	if err == nil {
		c.Header(runIDHeader, resp.RunID)
		c.JSON(http.StatusOK, resp)
		return
	}

	var failed *services.RunFailedError
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		abortJSON(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, agent.ErrAgentUnavailable):
		abortJSON(c, http.StatusBadRequest, "agent is not available", gin.H{"detail": err.Error()})
	case errors.Is(err, agent.ErrMissingBaseURL):
		abortJSON(c, http.StatusInternalServerError, err.Error(), nil)
	case errors.As(err, &failed):
		c.Header(runIDHeader, failed.RunID)
		abortJSON(c, http.StatusBadGateway, failed.Error(), gin.H{
			"run_id":      failed.RunID,
			"report_path": failed.ReportPath,
		})
	default:
		middleware.LoggerFrom(c).Error("run-case failed", "err", err)
		abortJSON(c, http.StatusInternalServerError, "internal error", nil)
	}
}
