package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const fallbackLimit int64 = 1 << 20

var sizeUnits = []struct {
	suffix string
	bytes  int64
}{
	{"GB", 1 << 30}, {"G", 1 << 30},
	{"MB", 1 << 20}, {"M", 1 << 20},
	{"KB", 1 << 10}, {"K", 1 << 10},
}

// BodyLimit caps request bodies. POST requests whose path starts with
// importPrefix get importLimit, since whole exported collections and
// workbooks are uploaded there; everything else gets defaultLimit.
//
// Limits are size strings such as "1M", "512K" or "2G". A bare number is
// bytes. Oversized requests are answered with 413.
func BodyLimit(defaultLimit, importLimit, importPrefix string) echo.MiddlewareFunc {
	regular := parseLimit(defaultLimit)
	imports := parseLimit(importLimit)

	limitFor := func(r *http.Request) int64 {
		if importPrefix != "" && r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, importPrefix) {
			return imports
		}
		return regular
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := limitFor(req)
			if req.ContentLength > limit {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"message": fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit),
				})
			}

			// Content-Length can be absent or lie; count while reading.
			req.Body = &limitedReadCloser{ReadCloser: req.Body, remaining: limit}
			return next(c)
		}
	}
}

type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (int, error) {
	if r.exceeded {
		return 0, errBodyTooLarge()
	}
	// One byte past the limit is enough to detect overflow.
	if ceiling := r.remaining + 1; int64(len(p)) > ceiling {
		p = p[:ceiling]
	}
	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		r.exceeded = true
		return 0, errBodyTooLarge()
	}
	return n, err
}

func errBodyTooLarge() error {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
}

// splitLimit separates a size string into its number and unit multiplier.
func splitLimit(s string) (int64, int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	unit := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSuffix(s, u.suffix)
			unit = u.bytes
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if n <= 0 {
		return 0, 0, fmt.Errorf("size must be positive: %d", n)
	}
	return n, unit, nil
}

// parseLimit converts a size string to bytes, falling back to 1 MB when the
// string is empty or malformed.
func parseLimit(s string) int64 {
	n, unit, err := splitLimit(s)
	if err != nil {
		return fallbackLimit
	}
	return n * unit
}

// ValidLimit reports whether s parses without falling back to the default.
func ValidLimit(s string) bool {
	_, _, err := splitLimit(s)
	return err == nil
}
