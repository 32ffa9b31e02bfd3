// Package gin provides a gin-idiomatic adapter over the shared Payment
// Gate core. Like the teacher's http/gin/middleware.go, it translates
// gin.Context into the stdlib http.Handler shape the gate core expects and
// delegates all payment verification/settlement logic to it.
package gin

import (
	"bufio"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/x402gate/x402/gate"
)

// Middleware wraps g's payment gating as a gin.HandlerFunc. On success the
// downstream handler chain (c.Next()) runs through the gate's own response
// recorder, so the settled PaymentReceipt still gets merged into the
// resource's JSON body; on failure the gate writes the 402/4xx/5xx error
// body itself and the chain is aborted.
func Middleware(g *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		originalWriter := c.Writer
		handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Writer = wrapGinWriter(originalWriter, w)
			c.Request = r
			c.Next()
			c.Writer = originalWriter
		}))
		handler.ServeHTTP(originalWriter, c.Request)
		c.Abort()
	}
}

// ginResponseWriter lets an arbitrary http.ResponseWriter (here, the gate's
// buffering recorder) satisfy gin.ResponseWriter, so handlers written
// against *gin.Context (c.JSON, c.String, c.Writer.Written()) keep working
// while bytes still flow through the wrapped writer.
type ginResponseWriter struct {
	http.ResponseWriter
	status  int
	size    int
	written bool
}

func wrapGinWriter(original gin.ResponseWriter, target http.ResponseWriter) gin.ResponseWriter {
	return &ginResponseWriter{ResponseWriter: target, status: original.Status()}
}

func (w *ginResponseWriter) WriteHeader(code int) {
	if w.written {
		return
	}
	w.status = code
	w.written = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *ginResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *ginResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *ginResponseWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *ginResponseWriter) Size() int { return w.size }

func (w *ginResponseWriter) Written() bool { return w.written }

func (w *ginResponseWriter) WriteHeaderNow() {
	if !w.written {
		w.WriteHeader(w.status)
	}
}

func (w *ginResponseWriter) Pusher() http.Pusher {
	if p, ok := w.ResponseWriter.(http.Pusher); ok {
		return p
	}
	return nil
}

func (w *ginResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *ginResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (w *ginResponseWriter) CloseNotify() <-chan bool {
	if cn, ok := w.ResponseWriter.(http.CloseNotifier); ok {
		return cn.CloseNotify()
	}
	ch := make(chan bool, 1)
	return ch
}
