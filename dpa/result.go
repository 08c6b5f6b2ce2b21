package dpa

import (
	"fmt"
	"strings"
	"time"
)

// KeybyteResult is the outcome of the guess sweep for one keybyte.
type KeybyteResult struct {
	Index int
	//Guess and Metric are only meaningful when Resolved is true
	Guess     byte
	Metric    float64
	PeakIndex int
	Resolved  bool
	Scored    int
	Unscored  int
	Duration  time.Duration
}

// Result is the recovered key with per keybyte details in attack order.
type Result struct {
	Key         [KeyBytes]byte
	Keybytes    []KeybyteResult
	UsedTraces  int
	TotalTraces int
}

// HexKey formats the key as space separated lowercase hex bytes.
func (r *Result) HexKey() string {
	parts := make([]string, len(r.Key))
	for i, b := range r.Key {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, " ")
}

// Unresolved returns the indices of attacked keybytes that could not be scored.
func (r *Result) Unresolved() []int {
	var out []int
	for _, kr := range r.Keybytes {
		if !kr.Resolved {
			out = append(out, kr.Index)
		}
	}
	return out
}
