package http

import (
	"github.com/gin-gonic/gin"

	"github.com/layer-3/garuda/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(handlers *Handlers, sessions *service.SessionService) *gin.Engine {
	router := gin.Default()

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/otp/send", handlers.SendOTP)
		auth.POST("/otp/verify", handlers.VerifyOTP)
		auth.POST("/passkey/begin", handlers.BeginPasskey)
		auth.POST("/passkey/finish", handlers.FinishPasskey)
		auth.POST("/wallet/challenge", handlers.WalletChallenge)
		auth.POST("/wallet/verify", handlers.VerifyWallet)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(sessions))
	{
		api.GET("/me", handlers.Me)
		api.GET("/keys", handlers.ListKeys)
		api.POST("/keys", handlers.MintAgentKey)
		api.GET("/apps/:id", handlers.App)
		api.GET("/apps/:id/agent", handlers.AppAgent)
		api.POST("/grants", handlers.SubmitGrant)
		api.POST("/redirect", handlers.Redirect)
		api.POST("/logout", handlers.Logout)
	}

	return router
}
