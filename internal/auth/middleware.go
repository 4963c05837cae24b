package auth

import (
	"github.com/gofiber/fiber/v3"

	"github.com/vibecode-sh/vibecode-server/internal/httputil"
)

// DevUserHeader names the header that substitutes for a session cookie when the server runs with AUTH_MODE=dev. The
// header value is taken as the user id verbatim.
const DevUserHeader = "X-Vibecode-Dev-User"

// RequireSession returns Fiber middleware that validates the browser session cookie and stores the authenticated user
// id in c.Locals("userID"). When allowDevHeader is true, a request carrying DevUserHeader is authenticated as that
// user without a cookie.
func RequireSession(secret string, allowDevHeader bool) fiber.Handler {
	return func(c fiber.Ctx) error {
		if allowDevHeader {
			if uid := c.Get(DevUserHeader); uid != "" {
				c.Locals("userID", uid)
				return c.Next()
			}
		}

		cookie := c.Cookies(SessionCookieName)
		if cookie == "" {
			return httputil.Fail(c, fiber.StatusUnauthorized, "unauthorized")
		}

		userID, err := ValidateSessionToken(cookie, secret)
		if err != nil {
			return httputil.Fail(c, fiber.StatusUnauthorized, "unauthorized")
		}

		c.Locals("userID", userID)
		return c.Next()
	}
}

// UserID extracts the authenticated user id stored by RequireSession. It returns an empty string when the middleware
// did not run.
func UserID(c fiber.Ctx) string {
	uid, _ := c.Locals("userID").(string)
	return uid
}
