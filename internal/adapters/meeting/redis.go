package meeting

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/dkeye/Meet/internal/domain"
)

// RedisValidator reads meetings published by the meetings API as hashes
// at meeting:<id> with fields code and active.
type RedisValidator struct {
	rdb redis.UniversalClient
}

func NewRedisValidator(rdb redis.UniversalClient) *RedisValidator {
	return &RedisValidator{rdb: rdb}
}

func Key(room domain.RoomID) string { return "meeting:" + string(room) }

func (v *RedisValidator) Validate(ctx context.Context, room domain.RoomID, code string) error {
	fields, err := v.rdb.HGetAll(ctx, Key(room)).Result()
	if err != nil {
		return fmt.Errorf("meeting %s: %w", room, err)
	}
	if len(fields) == 0 {
		return fmt.Errorf("meeting %s: %w", room, domain.ErrMeetingNotFound)
	}
	active := true
	if s, ok := fields["active"]; ok {
		if active, err = strconv.ParseBool(s); err != nil {
			return fmt.Errorf("meeting %s: bad active flag %q: %w", room, s, err)
		}
	}
	if err := (record{code: fields["code"], active: active}).check(code); err != nil {
		return fmt.Errorf("meeting %s: %w", room, err)
	}
	return nil
}
