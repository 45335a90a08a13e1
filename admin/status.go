package admin

import "github.com/gin-gonic/gin"

// StatusHandler is a handler in the status API.
//
// The handler registers routes that expose APIs to inspect the status of
// that component.
type StatusHandler interface {
	// Register registers routes on the given group for the handler.
	Register(group *gin.RouterGroup)
}
