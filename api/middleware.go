package api

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// decompressBody inflates gzip request bodies before they reach decodeBody.
// Other content codings are refused with 415.
func decompressBody() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			gz, err := contentCoding(req.Header.Get(echo.HeaderContentEncoding))
			if err != nil {
				return c.String(http.StatusUnsupportedMediaType, err.Error())
			}
			if !gz || req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			zr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return c.String(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = gzipBody{Reader: zr, raw: req.Body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

// contentCoding reports whether header asks for gzip. identity is accepted.
func contentCoding(header string) (bool, error) {
	gz := false
	for _, enc := range strings.Split(header, ",") {
		switch enc = strings.ToLower(strings.TrimSpace(enc)); enc {
		case "", "identity":
		case "gzip", "x-gzip":
			if gz {
				return false, errors.New("gzip applied twice")
			}
			gz = true
		default:
			return false, fmt.Errorf("unsupported content encoding %q", enc)
		}
	}
	return gz, nil
}

type gzipBody struct {
	*gzip.Reader
	raw io.Closer
}

func (b gzipBody) Close() error {
	err := b.Reader.Close()
	if cerr := b.raw.Close(); err == nil {
		err = cerr
	}
	return err
}
