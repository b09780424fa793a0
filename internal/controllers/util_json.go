package controllers

import (
	"github.com/gin-gonic/gin"
)

// abortJSON writes {"error": msg} merged with extra and stops the chain.
func abortJSON(c *gin.Context, status int, msg string, extra gin.H) {
	body := gin.H{"error": msg}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}
