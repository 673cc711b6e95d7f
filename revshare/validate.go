package revshare

import "fmt"

// ValidateConservation checks that parts add up to total exactly.
func ValidateConservation(total uint64, parts ...uint64) error {
	var sum uint64
	for _, p := range parts {
		next := sum + p
		if next < sum {
			return fmt.Errorf("%w: parts overflow", ErrConservationViolation)
		}
		sum = next
	}
	if sum != total {
		return fmt.Errorf("%w: total=%d parts=%d", ErrConservationViolation, total, sum)
	}
	return nil
}
