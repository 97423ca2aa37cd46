package blob

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreUpload(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ctx := context.Background()

	mock.ExpectTxPipeline()
	mock.ExpectSet("blob:backups:LatestBooking", "Booking created:", 0).SetVal("OK")
	mock.ExpectLPush("blob:backups:LatestBooking:versions", "Booking created:").SetVal(1)
	mock.ExpectLTrim("blob:backups:LatestBooking:versions", 0, defaultHistory-1).SetVal("OK")
	mock.ExpectTxPipelineExec()

	s := NewRedisStore(db)
	err := s.Upload(ctx, "backups", "LatestBooking", []byte("Booking created:"))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreDownload(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ctx := context.Background()

	mock.ExpectGet("blob:backups:AllBookingsAndBookingRules").SetVal(`{"bookings":[]}`)
	mock.ExpectGet("blob:backups:Missing").RedisNil()

	s := NewRedisStore(db)
	data, err := s.Download(ctx, "backups", "AllBookingsAndBookingRules")
	require.NoError(t, err)
	assert.Equal(t, `{"bookings":[]}`, string(data))

	_, err = s.Download(ctx, "backups", "Missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreKeepsVersions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "backups", "LatestBooking", []byte("first")))
	require.NoError(t, s.Upload(ctx, "backups", "LatestBooking", []byte("second")))

	data, err := s.Download(ctx, "backups", "LatestBooking")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.Len(t, s.Versions("backups", "LatestBooking"), 2)

	_, err = s.Download(ctx, "backups", "Other")
	assert.ErrorIs(t, err, ErrNotFound)
}
