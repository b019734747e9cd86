package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func serve(header string) (*httptest.ResponseRecorder, string, string) {
	gin.SetMode(gin.TestMode)
	var fromGin, fromCtx string
	r := gin.New()
	r.Use(Middleware())
	r.GET("/", func(c *gin.Context) {
		fromGin = Value(c)
		fromCtx = FromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(HeaderKey, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, fromGin, fromCtx
}

func TestMiddlewareReusesClientID(t *testing.T) {
	w, fromGin, fromCtx := serve("trace-42.a:b")
	assert.Equal(t, "trace-42.a:b", w.Header().Get(HeaderKey))
	assert.Equal(t, "trace-42.a:b", fromGin)
	assert.Equal(t, "trace-42.a:b", fromCtx)
}

func TestMiddlewareReplacesUnsafeID(t *testing.T) {
	for _, header := range []string{"", "bad id\r\n", string(make([]byte, 200))} {
		w, fromGin, fromCtx := serve(header)
		_, err := uuid.Parse(fromGin)
		assert.NoError(t, err)
		assert.Equal(t, fromGin, fromCtx)
		assert.Equal(t, fromGin, w.Header().Get(HeaderKey))
	}
}

func TestFromContextWithoutValue(t *testing.T) {
	assert.Empty(t, FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
