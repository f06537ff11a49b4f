package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// applied coupon per user: coupon:applied:{user_id} -> code
const keyApplied = "coupon:applied:%d"

var TTLApplied = 30 * time.Minute

// Slot is the session-scoped "currently applied coupon" cache. It is a UI
// convenience only; checkout receives the code explicitly and revalidates.
type Slot struct {
	RDB *redis.Client
}

func (s *Slot) Apply(ctx context.Context, userID uint, code string) error {
	if s == nil || s.RDB == nil {
		return nil
	}
	return s.RDB.Set(ctx, fmt.Sprintf(keyApplied, userID), code, TTLApplied).Err()
}

func (s *Slot) Peek(ctx context.Context, userID uint) (string, error) {
	if s == nil || s.RDB == nil {
		return "", nil
	}
	code, err := s.RDB.Get(ctx, fmt.Sprintf(keyApplied, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return code, err
}

func (s *Slot) Clear(ctx context.Context, userID uint) error {
	if s == nil || s.RDB == nil {
		return nil
	}
	return s.RDB.Del(ctx, fmt.Sprintf(keyApplied, userID)).Err()
}
