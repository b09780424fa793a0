package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/osvaldoandrade/uicase/internal/repository"
	"github.com/osvaldoandrade/uicase/internal/services"

	"github.com/gin-gonic/gin"
)

type getRunController struct{ svc services.RunService }

func NewGetRunController(s services.RunService) *getRunController {
	return &getRunController{svc: s}
}

func (h *getRunController) Handle(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrRunNotFound) {
		abortJSON(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type listRunsController struct{ svc services.RunService }

func NewListRunsController(s services.RunService) *listRunsController {
	return &listRunsController{svc: s}
}

func (h *listRunsController) Handle(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			abortJSON(c, http.StatusBadRequest, "invalid 'limit' (1-200)", nil)
			return
		}
		limit = n
	}
	runs, err := h.svc.List(c.Request.Context(), limit)
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
