// Package quota enforces per-organization SMS sending limits.
package quota

import (
	"context"
	"errors"
	"time"
)

// ErrQuotaExceeded is returned when a send would push an organization past
// its monthly SMS segment allowance.
var ErrQuotaExceeded = errors.New("sms quota exceeded")

// SMSQuota tracks SMS segment consumption per organization per calendar month.
type SMSQuota interface {
	// Consume reserves segments for the organization, failing with
	// ErrQuotaExceeded if the reservation would exceed the monthly limit.
	Consume(ctx context.Context, organizationID string, segments int) error

	// Used returns the segments consumed in the current month.
	Used(ctx context.Context, organizationID string) (int, error)
}

const (
	// singleSegmentLimit is the GSM-7 capacity of an unsplit message.
	singleSegmentLimit = 160
	// multiSegmentLimit is the per-part capacity once concatenation headers
	// are needed.
	multiSegmentLimit = 153
)

// Segments returns how many SMS segments a body consumes.
func Segments(body string) int {
	length := len([]rune(body))
	if length == 0 {
		return 1
	}

	if length <= singleSegmentLimit {
		return 1
	}

	segments := length / multiSegmentLimit
	if length%multiSegmentLimit != 0 {
		segments++
	}

	return segments
}

// monthKey buckets usage by calendar month.
func monthKey(organizationID string, now time.Time) string {
	return "sms_quota:" + organizationID + ":" + now.UTC().Format("2006-01")
}
