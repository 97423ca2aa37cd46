package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtbooking/internal/booking"
)

func setupRouter(t *testing.T) (*gin.Engine, *fixture) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	h := NewHandler(f.backup)

	router := gin.New()
	router.POST("/backup", h.Backup)
	router.GET("/backup/latest", h.Latest)
	router.POST("/restore", h.Restore)
	return router, f
}

func request(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlerLatestBeforeAnyBackup(t *testing.T) {
	router, _ := setupRouter(t)

	w := request(router, http.MethodGet, "/backup/latest", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerBackupThenRestore(t *testing.T) {
	router, f := setupRouter(t)
	ctx := context.Background()
	bookings, rules := f.seed(t)

	w := request(router, http.MethodPost, "/backup", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = request(router, http.MethodGet, "/backup/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	latest := w.Body.Bytes()

	var doc Document
	require.NoError(t, json.Unmarshal(latest, &doc))
	assert.ElementsMatch(t, bookings, doc.Bookings)

	require.NoError(t, f.bookings.DeleteAllBookings(ctx, false))
	require.NoError(t, f.rules.DeleteAllBookingRules(ctx, false))

	w = request(router, http.MethodPost, "/restore", latest)
	require.Equal(t, http.StatusOK, w.Code)

	restored, err := f.bookings.GetAllBookings(ctx, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, bookings, restored)
	restoredRules, err := f.rules.GetRules(ctx, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, rules, restoredRules)
}

func TestHandlerRestoreRejectsBadDocuments(t *testing.T) {
	router, _ := setupRouter(t)

	tests := []struct {
		name string
		doc  Document
	}{
		{"bad date", Document{Bookings: []booking.Booking{{Court: 1, CourtSpan: 1, Slot: 1, SlotSpan: 1, Name: "A.Playera", Date: "22-07-2016"}}}},
		{"bad court", Document{Bookings: []booking.Booking{{Court: 7, CourtSpan: 1, Slot: 1, SlotSpan: 1, Name: "A.Playera", Date: "2016-07-22"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.doc)
			w := request(router, http.MethodPost, "/restore", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	w := request(router, http.MethodPost, "/restore", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
