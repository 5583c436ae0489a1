package service

// prorate computes (deltaCents × remainingDays) / totalDays rounded
// half-even to a whole number of cents. The banker's rounding keeps
// repeated up/downgrades from drifting in either direction.
func prorate(deltaCents, remainingDays, totalDays int64) int64 {
	if totalDays <= 0 || remainingDays <= 0 {
		return 0
	}
	if remainingDays > totalDays {
		remainingDays = totalDays
	}

	negative := deltaCents < 0
	magnitude := deltaCents
	if negative {
		magnitude = -magnitude
	}

	numerator := magnitude * remainingDays
	quotient := numerator / totalDays
	remainder := numerator % totalDays

	switch {
	case remainder*2 > totalDays:
		quotient++
	case remainder*2 == totalDays && quotient%2 == 1:
		quotient++
	}

	if negative {
		return -quotient
	}
	return quotient
}
