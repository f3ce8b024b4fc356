package disposition

import (
	"context"
	"fmt"
	"time"
)

// PromotionCounter counts recent promotions.
type PromotionCounter interface {
	CountSentToLabSince(ctx context.Context, since int64) (int, error)
}

// BudgetAvailable reports whether another SENT_TO_LAB decision fits the QC
// limits for the current UTC day and ISO week. A zero limit is unlimited.
func BudgetAvailable(ctx context.Context, counter PromotionCounter, now time.Time, dailyLimit, weeklyLimit int) (bool, error) {
	if dailyLimit > 0 {
		n, err := counter.CountSentToLabSince(ctx, DayStart(now).UnixMilli())
		if err != nil {
			return false, fmt.Errorf("count daily promotions: %w", err)
		}
		if n >= dailyLimit {
			return false, nil
		}
	}
	if weeklyLimit > 0 {
		n, err := counter.CountSentToLabSince(ctx, WeekStart(now).UnixMilli())
		if err != nil {
			return false, fmt.Errorf("count weekly promotions: %w", err)
		}
		if n >= weeklyLimit {
			return false, nil
		}
	}
	return true, nil
}

// DayStart returns midnight UTC of t's day.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekStart returns Monday midnight UTC of t's ISO week.
func WeekStart(t time.Time) time.Time {
	day := DayStart(t)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}
