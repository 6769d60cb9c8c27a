package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// The startup probe must answer before any dependency is connected, and app
// endpoints must refuse with 503 until the gate sees both DB and Redis ready.
// Neither is connected in this test process, so the gate must hold everything
// except /healthz.
func TestReadinessGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(readinessGate())
	r.GET("/internal/purchase-orders/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("healthz = %d, want 204", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/purchase-orders/1", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("app endpoint before deps ready = %d, want 503", w.Code)
	}
}
