package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dkeye/Meet/internal/domain"
)

// Meeting is a row of the meetings table owned by the meetings API.
type Meeting struct {
	ID          string `gorm:"primaryKey;size:128"`
	MeetingCode string `gorm:"size:64"`
	IsActive    bool
	EndedAt     *time.Time
	CreatedAt   time.Time
}

func (Meeting) TableName() string { return "meetings" }

// OpenDB opens the meetings database. driver is postgres or sqlite.
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("meeting: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("meeting: open %s: %w", driver, err)
	}
	return db, nil
}

type SQLValidator struct {
	db *gorm.DB
}

func NewSQLValidator(db *gorm.DB) *SQLValidator {
	return &SQLValidator{db: db}
}

func (v *SQLValidator) Validate(ctx context.Context, room domain.RoomID, code string) error {
	var m Meeting
	err := v.db.WithContext(ctx).Where("id = ?", string(room)).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("meeting %s: %w", room, domain.ErrMeetingNotFound)
	}
	if err != nil {
		return fmt.Errorf("meeting %s: %w", room, err)
	}
	rec := record{code: m.MeetingCode, active: m.IsActive && m.EndedAt == nil}
	if err := rec.check(code); err != nil {
		return fmt.Errorf("meeting %s: %w", room, err)
	}
	return nil
}
