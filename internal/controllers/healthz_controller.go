package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type healthzController struct{}

func NewHealthzController() *healthzController { return &healthzController{} }

func (h *healthzController) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// HealthChecker is satisfied by persistence backends.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type readyzController struct{ checker HealthChecker }

func NewReadyzController(checker HealthChecker) *readyzController {
	return &readyzController{checker: checker}
}

func (h *readyzController) Handle(c *gin.Context) {
	if h.checker != nil {
		if err := h.checker.Health(c.Request.Context()); err != nil {
			abortJSON(c, http.StatusServiceUnavailable, "not ready", gin.H{"ok": false, "detail": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
