package api

import (
	_ "embed"
	"html/template"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/parsecraft/devgate/pkg/config"
	"github.com/parsecraft/devgate/pkg/httperr"
	"github.com/parsecraft/devgate/pkg/middleware"
)

//go:embed login.html
var loginPage string

var loginTmpl = template.Must(template.New("login").Parse(loginPage))

// Login is the password login router, mounted only when password
// authentication is configured.
type Login struct {
	cfg      config.AuthConfig
	sessions *middleware.Sessions
	limiter  *middleware.LoginRateLimiter
	secure   bool
	logger   *zap.Logger
}

// NewLogin creates the login router. secure marks issued cookies Secure
// when the listener terminates TLS.
func NewLogin(cfg config.AuthConfig, sessions *middleware.Sessions, limiter *middleware.LoginRateLimiter, secure bool, logger *zap.Logger) *Login {
	return &Login{
		cfg:      cfg,
		sessions: sessions,
		limiter:  limiter,
		secure:   secure,
		logger:   logger.Named("login"),
	}
}

// Serve handles GET and POST /login.
func (l *Login) Serve(c *gin.Context) error {
	switch c.Request.Method {
	case http.MethodGet:
		return l.renderPage(c, http.StatusOK, "")
	case http.MethodPost:
		return l.attempt(c)
	default:
		return httperr.NotFound("Not Found")
	}
}

func (l *Login) renderPage(c *gin.Context, status int, message string) error {
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	return loginTmpl.Execute(c.Writer, map[string]string{
		"Error": message,
		"To":    url.QueryEscape(c.Query("to")),
	})
}

func (l *Login) attempt(c *gin.Context) error {
	addr := c.ClientIP()
	if !l.limiter.Allow(addr) {
		l.logger.Warn("login rate limited", zap.String("addr", addr))
		return l.renderPage(c, http.StatusTooManyRequests, "Too many attempts, try again later")
	}

	password := c.PostForm("password")
	if err := bcrypt.CompareHashAndPassword([]byte(l.cfg.PasswordHash), []byte(password)); err != nil {
		l.logger.Info("failed login attempt", zap.String("addr", addr))
		return l.renderPage(c, http.StatusUnauthorized, "Incorrect password")
	}

	token, err := l.sessions.Issue()
	if err != nil {
		return err
	}
	http.SetCookie(c.Writer, l.sessions.Cookie(token, l.secure))

	to := c.Query("to")
	if to == "" {
		to = "/"
	}
	c.Redirect(http.StatusFound, to)
	return nil
}

// ServeLogout clears the session cookie.
func (l *Login) ServeLogout(c *gin.Context) error {
	http.SetCookie(c.Writer, middleware.ClearCookie(l.secure))
	c.Redirect(http.StatusFound, "/login")
	return nil
}
