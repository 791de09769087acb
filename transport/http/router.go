package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/pushauth/ports"
	"github.com/layer-3/pushauth/service"
	"github.com/rs/zerolog"
)

// SetupRouter sets up the Gin router
func SetupRouter(svc *service.PushAuthService, tokenizer ports.Tokenizer, log zerolog.Logger) *gin.Engine {
	log = log.With().Str("component", "http").Logger()

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))

	handlers := NewHandlers(svc, log)

	router.GET("/health", handlers.Health)

	api := router.Group("/api/v1")

	// Account holder routes
	owner := api.Group("")
	owner.Use(OwnerAuth(tokenizer))
	{
		owner.POST("/applications", handlers.CreateApplication)
		owner.GET("/applications", handlers.ListApplications)
		owner.GET("/applications/:id", handlers.GetApplication)
		owner.POST("/devices", handlers.IssueDevice)
		owner.GET("/devices", handlers.ListDevices)
		owner.GET("/devices/:id", handlers.GetDevice)
	}

	// Signature-authenticated routes
	api.PUT("/devices/:id/registration", handlers.CompleteRegistration)
	api.POST("/transactions", handlers.CreateTransaction)
	api.PUT("/transactions/:id/result", handlers.SubmitResult)
	api.GET("/transactions/:id/result", handlers.GetVerifiableResult)

	return router
}
