// Package report prints the outcome of an attack run.
package report

import (
	"encoding/hex"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/agnivade/levenshtein"

	"dpaRecover/dpa"
)

// Summary compares a result against the correct key, if one is known.
type Summary struct {
	Known    bool
	Attacked int
	Resolved int
	//Matching counts attacked keybytes equal to the correct key
	Matching int
	//Distance is the Levenshtein distance between the hex encoded recovered and correct key
	Distance int
}

// Summarize evaluates res. correctKey may be nil or must have dpa.KeyBytes bytes.
func Summarize(res *dpa.Result, correctKey []byte) Summary {
	s := Summary{Attacked: len(res.Keybytes)}
	for _, kr := range res.Keybytes {
		if kr.Resolved {
			s.Resolved++
		}
	}
	if len(correctKey) != dpa.KeyBytes {
		return s
	}
	s.Known = true
	for _, kr := range res.Keybytes {
		if kr.Resolved && kr.Guess == correctKey[kr.Index] {
			s.Matching++
		}
	}
	s.Distance = levenshtein.ComputeDistance(hex.EncodeToString(res.Key[:]), hex.EncodeToString(correctKey))
	return s
}

func status(kr dpa.KeybyteResult, correctKey []byte) string {
	switch {
	case !kr.Resolved:
		return "unresolved"
	case len(correctKey) != dpa.KeyBytes:
		return "-"
	case kr.Guess == correctKey[kr.Index]:
		return "correct"
	default:
		return fmt.Sprintf("wrong (want %02x)", correctKey[kr.Index])
	}
}

// Write prints the per keybyte table, the recovered key and, with a correct key, the comparison.
func Write(w io.Writer, res *dpa.Result, correctKey []byte) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BYTE\tGUESS\tMAX DIFF\tPEAK\tSCORED\tUNSCORED\tSTATUS")
	for _, kr := range res.Keybytes {
		guess, metric, peak := "--", "-", "-"
		if kr.Resolved {
			guess = fmt.Sprintf("%02x", kr.Guess)
			metric = fmt.Sprintf("%.3f", kr.Metric)
			peak = fmt.Sprintf("%v", kr.PeakIndex)
		}
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\t%v\n",
			kr.Index, guess, metric, peak, kr.Scored, kr.Unscored, status(kr, correctKey))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write report table : %w", err)
	}

	fmt.Fprintf(w, "Used %v of %v traces\n", res.UsedTraces, res.TotalTraces)
	fmt.Fprintf(w, "Recovered key after attack: %v\n", res.HexKey())
	if unresolved := res.Unresolved(); len(unresolved) > 0 {
		fmt.Fprintf(w, "Unresolved keybytes (left at 00): %v\n", unresolved)
	}

	s := Summarize(res, correctKey)
	if !s.Known {
		return nil
	}
	correct := &dpa.Result{}
	copy(correct.Key[:], correctKey)
	fmt.Fprintf(w, "Correct key:                %v\n", correct.HexKey())
	fmt.Fprintf(w, "Matching keybytes: %v of %v attacked\n", s.Matching, s.Attacked)
	_, err := fmt.Fprintf(w, "Levenshtein to correct key is %v\n", s.Distance)
	return err
}
