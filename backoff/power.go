package backoff

import (
	"math"
	"time"
)

// Default parameters of the power policy.
const (
	DefaultFactor = 2
	DefaultOffset = 0
)

// Seconds returns offset + factor^attempt in whole seconds.
//
// The arithmetic is 64-bit and saturates at math.MaxInt64 rather than
// wrapping, so large attempt counts stay monotonic. attempt values below 1
// are treated as 1; a factor below 1 is treated as DefaultFactor and a
// negative offset as 0.
func Seconds(attempt int, factor, offset int64) int64 {
	if attempt < 1 {
		attempt = 1
	}
	if factor < 1 {
		factor = DefaultFactor
	}
	if offset < 0 {
		offset = 0
	}

	if factor == 1 {
		if offset == math.MaxInt64 {
			return math.MaxInt64
		}
		return offset + 1
	}

	pow := int64(1)
	for range attempt {
		if pow > math.MaxInt64/factor {
			return math.MaxInt64
		}
		pow *= factor
	}
	if pow > math.MaxInt64-offset {
		return math.MaxInt64
	}
	return offset + pow
}

// Power is the polling policy: Delay = Offset + Factor^attempt seconds.
// There is no jitter. Max caps the delay when positive; zero leaves it
// uncapped.
type Power struct {
	Factor int64
	Offset time.Duration
	Max    time.Duration
}

// NewPower creates a power backoff with the given factor and offset.
func NewPower(factor int64, offset time.Duration) *Power {
	return &Power{Factor: factor, Offset: offset}
}

// Delay returns Offset + Factor^attempt seconds, capped at Max when set and
// saturated at the largest representable Duration.
func (p *Power) Delay(attempt int) time.Duration {
	secs := Seconds(attempt, p.Factor, int64(p.Offset/time.Second))
	var d time.Duration
	if secs > int64(math.MaxInt64/time.Second) {
		d = time.Duration(math.MaxInt64)
	} else {
		d = time.Duration(secs) * time.Second
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}
