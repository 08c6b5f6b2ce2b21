package plot

//Render data files to png by piping a script into a gnuplot process

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

type GnuplotRenderer struct {
	binary string
}

func NewGnuplotRenderer(binary string) *GnuplotRenderer {
	return &GnuplotRenderer{binary: binary}
}

//gnuplotScript plots dataFile into dataFile.png
func gnuplotScript(dataFile string) string {
	return fmt.Sprintf(`set terminal pngcairo size 1920,1080 enhanced
set yrange [ -8 : 8 ]
set output '%s.png'
plot '%s' with lines
`, dataFile, dataFile)
}

func (g *GnuplotRenderer) Render(ctx context.Context, dataFile string) error {
	cmd := exec.CommandContext(ctx, g.binary)
	cmd.Stdin = bytes.NewBufferString(gnuplotScript(dataFile))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%v failed for %v : %w (output %q)", g.binary, dataFile, err, out)
	}
	return nil
}
