package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
)

// zstdResponseWriter starts the encoder on the first body write, once the
// status is known. Bodiless responses pass through untouched.
type zstdResponseWriter struct {
	gin.ResponseWriter
	head    bool
	plain   bool
	encoder *zstd.Encoder
}

func (w *zstdResponseWriter) start() error {
	if w.encoder != nil || w.plain {
		return nil
	}
	if w.head || !bodyAllowed(w.ResponseWriter.Status()) {
		w.plain = true
		return nil
	}

	h := w.Header()
	h.Set("Content-Encoding", "zstd")
	h.Add("Vary", "Accept-Encoding")
	h.Del("Content-Length")

	encoder, err := zstd.NewWriter(w.ResponseWriter)
	if err != nil {
		return err
	}
	w.encoder = encoder
	return nil
}

func (w *zstdResponseWriter) Write(b []byte) (int, error) {
	if err := w.start(); err != nil {
		return 0, err
	}
	if w.plain {
		return w.ResponseWriter.Write(b)
	}
	return w.encoder.Write(b)
}

func (w *zstdResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *zstdResponseWriter) close() error {
	if w.encoder == nil {
		return nil
	}
	return w.encoder.Close()
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// acceptsZstd reports whether an Accept-Encoding header names zstd with a
// non-zero quality.
func acceptsZstd(header string) bool {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), "zstd") {
			continue
		}
		q := 1.0
		for _, p := range strings.Split(params, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(k), "q") {
				continue
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return false
			}
			q = f
		}
		return q > 0
	}
	return false
}

// zstdMiddleware compresses responses for clients that explicitly accept
// zstd.
func zstdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !acceptsZstd(c.GetHeader("Accept-Encoding")) {
			c.Next()
			return
		}

		w := &zstdResponseWriter{ResponseWriter: c.Writer, head: c.Request.Method == http.MethodHead}
		c.Writer = w
		defer w.close()

		c.Next()
	}
}
