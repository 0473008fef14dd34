package http

import "github.com/gin-gonic/gin"

// Register mounts the REST API on r. mw guards the /api group only, so
// health checks stay reachable. The group is returned for extra routes.
func (h *Handlers) Register(r gin.IRouter, mw ...gin.HandlerFunc) *gin.RouterGroup {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	api := r.Group("/api", mw...)

	// Page control
	api.POST("/goto", h.Goto)
	api.POST("/click", h.Click)
	api.POST("/type", h.Type)
	api.POST("/screenshot", h.Screenshot)

	// Window and lifecycle
	api.POST("/browser/show", h.Show)
	api.POST("/browser/hide", h.Hide)
	api.POST("/browser/restart", h.Restart)
	api.POST("/browser/close", h.Close)

	// Scripts
	api.POST("/execute", h.Execute)
	api.POST("/execute/continuous", h.ExecuteContinuous)
	api.GET("/scripts", h.ListScripts)
	api.POST("/scripts/:id/stop", h.StopScript)
	api.DELETE("/scripts/:id", h.StopScript)

	return api
}
