package middlewares

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	domainErrors "go-line-scheduler/src/domain/errors"
	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(logger.NewNopLogger()), CommonHeaders)
	r.GET("/x", handler)
	return r
}

func TestErrorHandler_MapsAppErrors(t *testing.T) {
	cases := []struct {
		errType string
		status  int
	}{
		{domainErrors.NotFound, http.StatusNotFound},
		{domainErrors.ValidationError, http.StatusBadRequest},
		{domainErrors.Conflict, http.StatusConflict},
		{domainErrors.Configuration, http.StatusUnprocessableEntity},
		{domainErrors.UnknownError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.errType, func(t *testing.T) {
			r := newRouter(func(c *gin.Context) {
				_ = c.Error(domainErrors.NewAppErrorWithType(tc.errType))
			})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestErrorHandler_PlainErrorIs500(t *testing.T) {
	r := newRouter(func(c *gin.Context) { _ = c.Error(errors.New("boom")) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestErrorHandler_WrittenResponseUntouched(t *testing.T) {
	r := newRouter(func(c *gin.Context) {
		c.JSON(http.StatusTeapot, gin.H{"ok": true})
		_ = c.Error(errors.New("late"))
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
