package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"botarena/pkg/utils/contextkey"
)

func TestTraceContextMiddlewareStampsIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TraceContextMiddleware())
	var gotTrace, gotRequest interface{}
	router.GET("/ping", func(c *gin.Context) {
		gotTrace = c.Request.Context().Value(contextkey.TraceID)
		gotRequest = c.Request.Context().Value(contextkey.RequestID)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Trace-Id", "trace-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if gotTrace != "trace-42" {
		t.Fatalf("trace id not carried into the request context: %v", gotTrace)
	}
	requestID, _ := gotRequest.(string)
	if requestID == "" {
		t.Fatalf("request id not generated")
	}
	if rec.Header().Get("X-Trace-Id") != "trace-42" {
		t.Fatalf("trace id not echoed: %q", rec.Header().Get("X-Trace-Id"))
	}
	if rec.Header().Get("X-Request-Id") != requestID {
		t.Fatalf("request id header %q does not match context value %q",
			rec.Header().Get("X-Request-Id"), requestID)
	}
}

func TestTraceContextMiddlewareUserIDOptIn(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TraceContextMiddlewareWithConfig(TraceContextConfig{}))
	var gotUser interface{}
	router.GET("/ping", func(c *gin.Context) {
		gotUser = c.Request.Context().Value(contextkey.UserID)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-User-Id", "99")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if gotUser != nil {
		t.Fatalf("user id header must be ignored unless allowed: %v", gotUser)
	}
	if rec.Header().Get("X-User-Id") != "" {
		t.Fatalf("user id header must not be echoed unless allowed")
	}
}
