package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	queueCodePrefix     = "QUEUE"
	queueCodeDateLayout = "20060102"
)

// EncodeQueueCode renders the printable check-in code of a doctor's queue,
// e.g. QUEUE-7-20250314
func EncodeQueueCode(doctorID int64, date time.Time) string {
	return fmt.Sprintf("%s-%d-%s", queueCodePrefix, doctorID, date.Format(queueCodeDateLayout))
}

// DecodeQueueCode parses a check-in code back into its doctor id and date
func DecodeQueueCode(code string) (int64, time.Time, error) {
	parts := strings.Split(strings.TrimSpace(code), "-")
	if len(parts) != 3 || parts[0] != queueCodePrefix {
		return 0, time.Time{}, invalidQueueCode(code)
	}

	doctorID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || doctorID <= 0 {
		return 0, time.Time{}, invalidQueueCode(code)
	}

	date, err := time.ParseInLocation(queueCodeDateLayout, parts[2], time.UTC)
	if err != nil {
		return 0, time.Time{}, invalidQueueCode(code)
	}
	return doctorID, date, nil
}

func invalidQueueCode(code string) *ClinicError {
	return NewMalformedError(ErrCodeInvalidCode, "Invalid QR code format", fmt.Errorf("unparseable code %q", code))
}
