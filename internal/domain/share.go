package domain

import "fmt"

// Share は閾値分散された秘密の一片。Index は 1 始まり。
type Share struct {
	Index   uint8
	Payload []byte
}

// ThresholdSpec は M/N の閾値指定を表す。
type ThresholdSpec struct {
	Threshold int
	Total     int
}

// Validate は 1 <= M <= N <= 255 を検査する。
func (s ThresholdSpec) Validate() error {
	if s.Threshold < 1 || s.Total < s.Threshold || s.Total > 255 {
		return fmt.Errorf("%w: %d/%d (need 1 <= M <= N <= 255)", ErrInvalidThreshold, s.Threshold, s.Total)
	}
	return nil
}
