// dpaTraceToPlain prints a JSON tracefile as plain text, one trace per line.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"dpaRecover/tracefile"
)

func convert(inPath string, out io.Writer) error {
	archive, err := tracefile.Load(inPath)
	if err != nil {
		return err
	}
	return archive.WritePlain(out)
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "dpaTraceToPlain",
		Usage: "Print a JSON tracefile as plaintext with hex blocks and sample values",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Usage: "Input tracefile", Value: "traces.json"},
			&cli.StringFlag{Name: "out", Usage: "Output file, - for stdout", Value: "-"},
		},
		Action: func(c *cli.Context) error {
			if c.String("in") == "" || c.String("out") == "" {
				return fmt.Errorf(`specify "-in" and "-out"`)
			}
			if c.String("out") == "-" {
				return convert(c.String("in"), os.Stdout)
			}

			outFile, err := os.Create(c.String("out"))
			if err != nil {
				return fmt.Errorf("failed to create outfile %v : %w", c.String("out"), err)
			}
			if err := convert(c.String("in"), outFile); err != nil {
				outFile.Close()
				return err
			}
			return outFile.Close()
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error : %v\n", err)
		os.Exit(1)
	}
}
