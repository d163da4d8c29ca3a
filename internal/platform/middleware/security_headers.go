package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// chartPolicy permits the echarts runtime and the inline bootstrap script
// that rendered trend charts carry.
const chartPolicy = "default-src 'none'; script-src 'unsafe-inline' https://go-echarts.github.io; " +
	"style-src 'unsafe-inline'; img-src data:; frame-ancestors 'none'"

const apiPolicy = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders sets response headers for a local JSON API. Paths ending
// in /chart get a content policy that lets the chart page load its script.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "0")

			if strings.HasSuffix(c.Request().URL.Path, "/chart") {
				h.Set("Content-Security-Policy", chartPolicy)
			} else {
				h.Set("Content-Security-Policy", apiPolicy)
			}

			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// Lab results are personal health data.
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
