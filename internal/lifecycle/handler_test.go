package lifecycle

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(newManager(t))

	router := gin.New()
	router.GET("/lifecycle", h.GetState)
	router.PUT("/lifecycle", h.SetState)
	return router
}

func putState(router *gin.Engine, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPut, "/lifecycle", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlerGetDefaultState(t *testing.T) {
	router := setupRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lifecycle", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"ACTIVE"}`, w.Body.String())
}

func TestHandlerSetState(t *testing.T) {
	router := setupRouter(t)

	tests := []struct {
		name   string
		body   StateRequest
		status int
	}{
		{"unknown state", StateRequest{State: "PAUSED"}, http.StatusBadRequest},
		{"retired without url", StateRequest{State: "RETIRED"}, http.StatusBadRequest},
		{"read only", StateRequest{State: "READONLY"}, http.StatusOK},
		{"retired", StateRequest{State: "RETIRED", URL: "http://x"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := putState(router, tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lifecycle", nil))
	assert.JSONEq(t, `{"state":"RETIRED","url":"http://x"}`, w.Body.String())
}
