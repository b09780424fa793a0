package controllers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/osvaldoandrade/uicase/internal/repository"
	"github.com/osvaldoandrade/uicase/internal/services"

	"github.com/gin-gonic/gin"
)

type getReportController struct {
	svc        services.RunService
	reportsDir string
}

func NewGetReportController(s services.RunService, reportsDir string) *getReportController {
	return &getReportController{svc: s, reportsDir: reportsDir}
}

func (h *getReportController) Handle(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrRunNotFound) {
		abortJSON(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	// Only serve files the renderer wrote.
	if !within(h.reportsDir, rec.ReportPath) {
		abortJSON(c, http.StatusNotFound, "report not available", nil)
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.File(rec.ReportPath)
}

func within(dir, path string) bool {
	if dir == "" || path == "" {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}
