package domain

import (
	"sort"
	"time"
)

const (
	startTolerance     = 10 * time.Second
	DefaultFailedGrace = 28 * 24 * time.Hour
)

type ServiceFee struct {
	Fixed      int64      `json:"fixed"`
	Percentage int64      `json:"percentage"`
	Minimum    *int64     `json:"minimum"`
	Maximum    *int64     `json:"maximum"`
	StartDate  time.Time  `json:"startDate"`
	EndDate    *time.Time `json:"endDate"`
}

// PackageStatus is the client-facing projection of one or more packages of the same type.
type PackageStatus struct {
	StartDate          time.Time    `json:"startDate"`
	ValidUntil         *time.Time   `json:"validUntil"`
	RemoveAt           *time.Time   `json:"removeAt"`
	FirstFailedPayment *time.Time   `json:"firstFailedPayment"`
	ServiceFees        []ServiceFee `json:"serviceFees"`
}

// Merge combines two statuses of the same package type. The result does not
// depend on argument order or grouping:
//   - earliest start date
//   - latest validUntil, where nil (no expiry) wins
//   - latest removeAt, where nil (never removed) wins
//   - earliest non-nil firstFailedPayment
//   - union of service fees in a canonical order
func (s PackageStatus) Merge(other PackageStatus) PackageStatus {
	merged := PackageStatus{
		StartDate:          s.StartDate,
		ValidUntil:         latestUnbounded(s.ValidUntil, other.ValidUntil),
		RemoveAt:           latestUnbounded(s.RemoveAt, other.RemoveAt),
		FirstFailedPayment: earliest(s.FirstFailedPayment, other.FirstFailedPayment),
	}
	if other.StartDate.Before(merged.StartDate) {
		merged.StartDate = other.StartDate
	}

	fees := make([]ServiceFee, 0, len(s.ServiceFees)+len(other.ServiceFees))
	fees = append(fees, s.ServiceFees...)
	fees = append(fees, other.ServiceFees...)
	sortServiceFees(fees)
	merged.ServiceFees = fees
	return merged
}

// IsActive mirrors what clients enforce: started (with a small clock tolerance),
// not removed, not expired, and not failing payment for longer than grace.
func (s PackageStatus) IsActive(now time.Time, failedGrace time.Duration) bool {
	if s.StartDate.After(now.Add(startTolerance)) {
		return false
	}
	if s.RemoveAt != nil && s.RemoveAt.Before(now) {
		return false
	}
	if s.ValidUntil != nil && s.ValidUntil.Before(now) {
		return false
	}
	if s.FirstFailedPayment != nil && s.FirstFailedPayment.Before(now.Add(-failedGrace)) {
		return false
	}
	return true
}

// ActiveServiceFee returns the highest fee components among fees active at now.
func (s PackageStatus) ActiveServiceFee(now time.Time) ServiceFee {
	result := ServiceFee{StartDate: now}
	found := false
	for _, fee := range s.ServiceFees {
		if fee.StartDate.After(now) || (fee.EndDate != nil && fee.EndDate.Before(now)) {
			continue
		}
		if !found {
			result = fee
			found = true
			continue
		}
		result.Fixed = max(result.Fixed, fee.Fixed)
		result.Percentage = max(result.Percentage, fee.Percentage)
		result.Minimum = maxOptional(result.Minimum, fee.Minimum)
		result.Maximum = maxOptional(result.Maximum, fee.Maximum)
	}
	return result
}

func latestUnbounded(a, b *time.Time) *time.Time {
	if a == nil || b == nil {
		return nil
	}
	if b.After(*a) {
		return cloneTime(b)
	}
	return cloneTime(a)
}

func earliest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return cloneTime(b)
	case b == nil:
		return cloneTime(a)
	case b.Before(*a):
		return cloneTime(b)
	default:
		return cloneTime(a)
	}
}

func maxOptional(a, b *int64) *int64 {
	if a == nil {
		return b
	}
	if b == nil || *a >= *b {
		return a
	}
	return b
}

func sortServiceFees(fees []ServiceFee) {
	sort.SliceStable(fees, func(i, j int) bool {
		a, b := fees[i], fees[j]
		if !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.Before(b.StartDate)
		}
		if a.Percentage != b.Percentage {
			return a.Percentage < b.Percentage
		}
		if a.Fixed != b.Fixed {
			return a.Fixed < b.Fixed
		}
		if endKey(a.EndDate) != endKey(b.EndDate) {
			return endKey(a.EndDate) < endKey(b.EndDate)
		}
		if boundKey(a.Minimum) != boundKey(b.Minimum) {
			return boundKey(a.Minimum) < boundKey(b.Minimum)
		}
		return boundKey(a.Maximum) < boundKey(b.Maximum)
	})
}

func boundKey(v *int64) int64 {
	if v == nil {
		return -1 << 63
	}
	return *v
}

func endKey(t *time.Time) int64 {
	if t == nil {
		return 1<<63 - 1
	}
	return t.UnixNano()
}
