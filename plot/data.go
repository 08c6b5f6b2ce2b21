package plot

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

//Path returns the data file of guess k for keybyte i below dir
func Path(dir string, i int, k byte) string {
	return filepath.Join(dir, fmt.Sprintf("K_%02d_%02x.txt", i, k))
}

//WriteData stores diff with one value per line
func WriteData(path string, diff []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %v : %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, v := range diff {
		w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %v : %w", path, err)
	}
	return f.Close()
}
