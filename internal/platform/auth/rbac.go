package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole admits callers holding at least one of roles. Admin is
// always admitted.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, has := range RolesFromContext(c.Request().Context()) {
				if has == RoleAdmin {
					return next(c)
				}
				for _, required := range roles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// ReadRoles may view instruments, tables and administrations.
func ReadRoles() echo.MiddlewareFunc {
	return RequireRole(RoleClinician, RoleAssistant)
}

// WriteRoles may create, score and delete.
func WriteRoles() echo.MiddlewareFunc {
	return RequireRole(RoleClinician)
}

// AdministerRoles may start sittings and record answers.
func AdministerRoles() echo.MiddlewareFunc {
	return RequireRole(RoleClinician, RoleAssistant)
}
