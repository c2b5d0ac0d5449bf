package route

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/parsecraft/devgate/pkg/middleware"
)

// RequireAuth gates an entry behind a valid session. Unauthenticated
// requests are redirected to the login page with the original path carried
// in the `to` query parameter. A nil session manager (auth mode "none")
// admits everything.
func RequireAuth(sessions *middleware.Sessions) Predicate {
	return func(c *gin.Context) (bool, error) {
		if sessions == nil || sessions.Authenticated(c.Request) {
			return true, nil
		}
		to := url.QueryEscape(c.Request.URL.Path)
		c.Redirect(http.StatusFound, "/login?to="+to)
		return false, nil
	}
}
