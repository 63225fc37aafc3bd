package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Elapsed returns end - start. A negative difference (clock skew between the
// host that wrote lastUpdate and the host computing the bill) is clamped to
// zero rather than failing, so a skewed clock cannot wedge the closing path;
// the customer is billed for zero minutes in that case.
func Elapsed(start, end time.Time) time.Duration {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

// IsExpired reports whether the allotted time has fully elapsed.
// The boundary is inclusive: exactly allotted is expired.
func IsExpired(now, lastUpdate time.Time, allotted time.Duration) bool {
	return now.Sub(lastUpdate) >= allotted
}

// IsNearExpiry reports whether the remaining time is within the warning
// window but the session has not expired yet.
func IsNearExpiry(now, lastUpdate time.Time, allotted, warning time.Duration) bool {
	remaining := allotted - now.Sub(lastUpdate)
	return remaining > 0 && remaining <= warning
}

// BilledMinutes converts an elapsed duration into billable minutes.
// Partial minutes are always rounded up: 61 seconds bills as 2 minutes.
// This direction is a revenue decision, do not change it silently.
func BilledMinutes(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	minutes := int64(d / time.Minute)
	if d%time.Minute != 0 {
		minutes++
	}
	return minutes
}

// ForDuration returns BilledMinutes(d) * perMinute.
func ForDuration(d time.Duration, perMinute decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(BilledMinutes(d)).Mul(perMinute)
}
