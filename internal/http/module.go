// Package http defines the contract feature modules implement to expose
// routes on the API server.
package http

import (
	"github.com/gin-gonic/gin"
)

// Module is one mountable feature area of the API.
type Module interface {
	Name() string
	RegisterRoutes(group *gin.RouterGroup)
}
