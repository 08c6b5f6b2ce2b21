package tracefile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// WritePlain writes one line per trace: index, plaintext and ciphertext in hex, then the samples.
func (a *Archive) WritePlain(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# %v %v format=%v traces=%v samples=%v\n", a.Meta.Algorithm, a.Meta.Mode, a.Meta.Format, a.Len(), a.SampleCount())
	for i := range a.Traces {
		fmt.Fprintf(bw, "%d P=%x C=%x", i, a.Traces[i].Plaintext, a.Traces[i].Ciphertext)
		for _, v := range a.Traces[i].Samples {
			bw.WriteByte(' ')
			bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write plain traces : %w", err)
	}
	return nil
}
