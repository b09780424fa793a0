package app

import (
	"github.com/osvaldoandrade/uicase/internal/controllers"
	"github.com/osvaldoandrade/uicase/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", controllers.NewHealthzController().Handle)
	app.Engine.GET("/readyz", controllers.NewReadyzController(app.Persistence).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := []gin.HandlerFunc{
		middleware.AuthMiddleware(app.Validator),
		middleware.RequireScope(app.Config.RequireScope),
	}
	runCase := append(append([]gin.HandlerFunc{}, authed...),
		middleware.RateLimitRunCase(app.RateLimiter, app.Config),
		controllers.NewRunCaseController(app.Runs).Handle,
	)

	// Unversioned path kept for existing callers.
	app.Engine.POST("/run-case", runCase...)

	v1 := app.Engine.Group("/v1/uicase", authed...)
	{
		v1.POST("/run-case", runCase[len(authed):]...)
		v1.GET("/runs", controllers.NewListRunsController(app.Runs).Handle)
		v1.GET("/runs/:id", controllers.NewGetRunController(app.Runs).Handle)
		v1.GET("/runs/:id/report", controllers.NewGetReportController(app.Runs, app.Config.ReportsDir).Handle)
	}
}
