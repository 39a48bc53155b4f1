package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/storefront/internal/config"     // limiter policies for the global bucket
	"github.com/iliyamo/storefront/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/storefront/internal/middleware" // session resolution, guards and role enforcement
	"github.com/iliyamo/storefront/internal/model"      // role names
	"github.com/iliyamo/storefront/internal/ratelimit"  // the global bucket
)

// Handlers bundles everything Register needs.  Admin and Health may be nil
// to leave those routes out.
type Handlers struct {
	Auth    *handler.AuthHandler
	Cart    *handler.CartHandler
	Contact *handler.ContactHandler
	Admin   *handler.AdminHandler
	Health  echo.HandlerFunc
}

// Middleware carries the inputs of the global middleware chain.
type Middleware struct {
	Session      middleware.SessionConfig
	Global       ratelimit.Bucket
	GlobalPolicy config.Policy
}

// Register installs the global middleware chain and every route.  The
// order matters: devtools probes and malformed cookies are answered before
// the rate limiter spends a token, and the session middleware runs last so
// it only sees requests that will reach a handler.
func Register(e *echo.Echo, h Handlers, m Middleware) {
	e.Use(middleware.DevtoolsGuard())
	e.Use(middleware.CookieGuard())
	e.Use(middleware.RateLimit(config.LimitGlobal, m.Global, m.GlobalPolicy))
	e.Use(middleware.Session(m.Session))

	// Health check for load balancers; exempt from the sign-in redirects.
	if h.Health != nil {
		e.GET("/healthz", h.Health)
	}

	RegisterAuth(e, h.Auth)

	// Cart and checkout need a signed-in user; the session middleware
	// already redirects unfinished sign-ins.
	signedIn := middleware.RequireUser()
	e.GET("/api/cart", h.Cart.Get, signedIn)
	e.POST("/api/save-cart", h.Cart.Save, signedIn)
	e.POST("/checkout/shipping", h.Cart.Shipping, signedIn)

	// The contact form is open to guests and limited per IP in the handler.
	e.POST("/contact", h.Contact.Create)

	if h.Admin != nil {
		admin := e.Group("/admin", middleware.RequireRole(model.RoleAdmin))
		admin.POST("/users/:id/sessions/revoke", h.Admin.RevokeSessions)
	}
}

// RegisterAuth registers the sign-up, sign-in, verification, second factor,
// password reset and settings routes.  None of them needs a role: each
// handler checks the session state it requires.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler) {
	g := e.Group("/auth")
	g.POST("/signup", a.Signup)
	g.POST("/login", a.Login)
	g.POST("/signout", a.Signout)
	g.GET("/me", a.Me)

	// Email verification for new accounts and address changes.
	g.GET("/verify-email", a.VerificationStatus)
	g.POST("/verify-email", a.VerifyEmail)
	g.POST("/verify-email/resend", a.ResendVerification)

	// Second factor: enrolment, challenge and recovery.
	g.GET("/2fa/setup", a.TOTPSetupKey)
	g.POST("/2fa/setup", a.TOTPSetup)
	g.POST("/2fa", a.TOTPChallenge)
	g.POST("/2fa/reset", a.TOTPReset)
	g.GET("/recovery-code", a.RecoveryCode)

	// Password reset walks a separate cookie-bound session through the
	// mailed code, then the second factor when one is registered.
	g.POST("/forgot-password", a.ForgotPassword)
	g.POST("/reset-password/verify-email", a.ResetVerifyEmail)
	g.POST("/reset-password/2fa", a.ResetTwoFactor)
	g.POST("/reset-password/recovery-code", a.ResetRecoveryCode)
	g.POST("/reset-password", a.ResetPassword)

	// Account settings (protected prefix, see auth.DefaultPaths).
	g.GET("/settings", a.Settings)
	g.POST("/settings/password", a.UpdatePassword)
	g.POST("/settings/email", a.UpdateEmail)
	g.POST("/settings/mfa", a.UpdateMfa)

	// Sign in with Google.
	g.GET("/login/google", a.GoogleLogin)
	g.GET("/login/google/callback", a.GoogleCallback)
}
