package meeting

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/domain"
)

func TestRecordCheck(t *testing.T) {
	assert.NoError(t, record{active: true}.check("anything"))
	assert.NoError(t, record{code: "abc", active: true}.check("abc"))
	assert.ErrorIs(t, record{code: "abc", active: true}.check("abd"), domain.ErrInvalidMeetingCode)
	assert.ErrorIs(t, record{code: "abc", active: false}.check("abc"), domain.ErrMeetingEnded)
	assert.NoError(t, AllowAll{}.Validate(context.Background(), "R1", ""))
}

func TestSQLValidator(t *testing.T) {
	db, err := OpenDB("sqlite", "file::memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Meeting{}))

	ended := time.Now()
	require.NoError(t, db.Create(&[]Meeting{
		{ID: "live", MeetingCode: "abc-def", IsActive: true},
		{ID: "open", IsActive: true},
		{ID: "closed", MeetingCode: "x", IsActive: false},
		{ID: "ended", MeetingCode: "x", IsActive: true, EndedAt: &ended},
	}).Error)

	v := NewSQLValidator(db)
	ctx := context.Background()
	tests := []struct {
		room    domain.RoomID
		code    string
		wantErr error
	}{
		{"live", "abc-def", nil},
		{"live", "wrong", domain.ErrInvalidMeetingCode},
		{"open", "", nil},
		{"closed", "x", domain.ErrMeetingEnded},
		{"ended", "x", domain.ErrMeetingEnded},
		{"missing", "", domain.ErrMeetingNotFound},
	}
	for _, tt := range tests {
		t.Run(string(tt.room)+"/"+tt.code, func(t *testing.T) {
			err := v.Validate(ctx, tt.room, tt.code)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOpenDBUnknownDriver(t *testing.T) {
	_, err := OpenDB("oracle", "")
	assert.Error(t, err)
}

func TestRedisValidatorUnreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	err := NewRedisValidator(rdb).Validate(context.Background(), "R1", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrMeetingNotFound)
	assert.Equal(t, "meeting:R1", Key("R1"))
}
