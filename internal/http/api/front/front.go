package front

import (
	"github.com/gin-gonic/gin"
	"github.com/watchlistpro/cardstore/internal/config"
	"github.com/watchlistpro/cardstore/internal/fulfillment"
	apihttp "github.com/watchlistpro/cardstore/internal/http"
	"github.com/watchlistpro/cardstore/internal/http/api/front/handlers"
	"github.com/watchlistpro/cardstore/internal/mail"
	"github.com/watchlistpro/cardstore/internal/payment/yoco"
	"gorm.io/gorm"
)

// Deps holds the collaborators of the front routes.
type Deps struct {
	DB         *gorm.DB
	Config     *config.Config
	Mailer     mail.Sender
	Yoco       *yoco.Client
	Reconciler *fulfillment.Reconciler
}

// RegisterFrontRoutes registers public and authenticated user routes.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil || deps.Config == nil {
		return
	}
	requireUser := apihttp.UserAuthMiddleware(deps.DB, deps.Config.JWT)

	r.GET("/", handlers.Root)

	authHandler := handlers.NewAuthHandler(deps.DB, deps.Config, deps.Mailer)
	auth := r.Group("/auth/user")
	auth.POST("/register", authHandler.Register)
	auth.POST("/verify-email", authHandler.VerifyEmail)
	auth.GET("/verify-email/:token", authHandler.VerifyEmail)
	auth.POST("/login", authHandler.Login)
	auth.POST("/login-web", authHandler.LoginWeb)
	auth.POST("/logout-web", authHandler.LogoutWeb)
	auth.POST("/forgot-password", authHandler.ForgotPassword)
	auth.POST("/reset-password", authHandler.ResetPassword)
	auth.GET("/fetch-user", requireUser, authHandler.FetchUser)

	cardHandler := handlers.NewCardHandler(deps.DB)
	cards := r.Group("/cards", requireUser)
	cards.GET("/available", cardHandler.Available)
	cards.GET("/fetch-user-cards", cardHandler.Mine)
	cards.POST("/:cardId/use", cardHandler.Use)

	errorHandler := handlers.NewErrorReportHandler(deps.DB)
	r.POST("/error", requireUser, errorHandler.Create)

	paymentHandler := handlers.NewPaymentHandler(deps.DB, deps.Config, deps.Yoco, deps.Reconciler)
	payment := r.Group("/payment")
	payment.GET("/products", handlers.Products)
	payment.POST("/yoco/webhook", paymentHandler.YocoWebhook)
	payment.POST("/payfast/webhook", paymentHandler.PayFastWebhook)
	payment.POST("/webhook", paymentHandler.Webhook)

	paymentAuthed := payment.Group("", requireUser)
	paymentAuthed.POST("/create-payment", paymentHandler.Create)
	paymentAuthed.POST("/yoco/create-payment", paymentHandler.CreateYoco)
	paymentAuthed.POST("/payfast/create-payment", paymentHandler.CreatePayFast)
	paymentAuthed.POST("/fetch-purchase-history", paymentHandler.PurchaseHistory)
}
