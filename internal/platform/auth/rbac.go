package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Role names carried in token claims.
const (
	RoleAdmin      = "admin"
	RoleNurse      = "nurse"
	RoleCaretaker  = "caretaker"
	RolePharmacist = "pharmacist"
	RoleFamily     = "family_member"
	RolePatient    = "patient"
)

// ElevatedRoles may act on resources they do not own. Nurses hold clinical
// write access but stay scoped to reminders they created.
var ElevatedRoles = []string{RoleAdmin, RoleCaretaker}

// HasRole reports whether roles contains any of the wanted roles.
func HasRole(roles []string, wanted ...string) bool {
	for _, r := range roles {
		for _, w := range wanted {
			if r == w {
				return true
			}
		}
	}
	return false
}

// RequireRole returns a middleware that rejects requests whose authenticated
// user holds none of the given roles.
func RequireRole(wanted ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			roles := RolesFromContext(c.Request().Context())
			if !HasRole(roles, wanted...) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			return next(c)
		}
	}
}
