// dpaCombineTraces merges a directory of simulator .bin traces into one JSON tracefile.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"dpaRecover"
	"dpaRecover/logger"
	"dpaRecover/tracefile"
)

type application struct {
	inputDir   string
	outputPath string
	opts       tracefile.CombineOptions
}

func combineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "correct-key", Aliases: []string{"k"}, Usage: "Known key in hex, validated against all traces and embedded into the output"},
		&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "aes128enc stamps AES-128 encrypt into the tracefile, raw leaves algorithm and mode empty", Value: tracefile.CombineAES128Enc},
		&cli.StringFlag{Name: "format", Usage: "Sample format of the .bin files: uint8_t or float", Value: string(tracefile.FormatUint8)},
	}
}

func setupAndParseCLI(c *cli.Context) (*application, error) {
	if c.NArg() != 2 {
		return nil, fmt.Errorf("expected input_dir and output_json, got %v arguments", c.NArg())
	}
	app := &application{
		inputDir:   c.Args().Get(0),
		outputPath: c.Args().Get(1),
	}

	switch format := tracefile.Format(c.String("format")); format {
	case tracefile.FormatUint8, tracefile.FormatFloat:
		app.opts.Format = format
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	switch mode := c.String("mode"); mode {
	case tracefile.CombineAES128Enc, tracefile.CombineRaw:
		app.opts.Mode = mode
	default:
		return nil, fmt.Errorf("unsupported mode %q", mode)
	}

	if c.IsSet("correct-key") {
		key, err := dpaRecover.ParseKey(c.String("correct-key"))
		if err != nil {
			return nil, err
		}
		app.opts.CorrectKey = key
	}
	return app, nil
}

func run(app *application, log logger.Logger) error {
	archive, err := tracefile.CombineDir(app.inputDir, app.opts)
	if err != nil {
		return fmt.Errorf("failed to combine traces : %w", err)
	}
	if archive.Len() == 0 {
		return fmt.Errorf("no trace files found in %v", app.inputDir)
	}
	if err := archive.Save(app.outputPath); err != nil {
		return err
	}
	log.Info("wrote tracefile", "path", app.outputPath, "traces", archive.Len(),
		"samples", archive.SampleCount(), "format", archive.Meta.Format, "with_key", archive.Meta.CorrectKey != nil)
	return nil
}

func newApp(log logger.Logger) *cli.App {
	return &cli.App{
		Name:      "dpaCombineTraces",
		Usage:     "Combine simulated trace files into a JSON tracefile",
		ArgsUsage: "input_dir output_json",
		Flags:     combineFlags(),
		Action: func(c *cli.Context) error {
			app, err := setupAndParseCLI(c)
			if err != nil {
				return fmt.Errorf("failed to parse cli args : %w", err)
			}
			return run(app, log)
		},
	}
}

func main() {
	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error : %v\n", err)
		os.Exit(1)
	}
	if err := newApp(log).Run(os.Args); err != nil {
		log.Error("combining traces failed", "error", err)
		os.Exit(1)
	}
}
