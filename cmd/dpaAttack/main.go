// dpaAttack recovers an AES-128 key from a JSON tracefile with difference-of-means DPA.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"

	"dpaRecover"
	"dpaRecover/logger"
)

type application struct {
	tracePath string
	loadOpts  dpaRecover.LoadOptions
}

func attackFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "randomize", Aliases: []string{"r"}, Usage: "Randomly shuffle traces before starting"},
		&cli.Uint64Flag{Name: "seed", Usage: "Seed for --randomize, 0 picks and logs a random seed"},
		&cli.BoolFlag{Name: "create-plots", Aliases: []string{"p"}, Usage: "Write the differential trace of every scored guess"},
		&cli.StringFlag{Name: "plot-dir", Usage: "Directory for plot files", Value: "plots"},
		&cli.StringFlag{Name: "plot-renderer", Usage: "Plot renderer: text or gnuplot", Value: "text"},
		&cli.IntFlag{Name: "max-traces", Aliases: []string{"n"}, Usage: "Use at most this many traces for each keybyte. By default all traces are used"},
		&cli.IntSliceFlag{Name: "keybyte", Aliases: []string{"i"}, Usage: "Attack keybyte at this index. Can be given multiple times. By default all keybytes are attacked"},
		&cli.StringSliceFlag{Name: "guess", Aliases: []string{"g"}, Usage: "Only try this key guess (decimal or 0x hex). Can be given multiple times"},
		&cli.IntFlag{Name: "moving-average", Aliases: []string{"a"}, Usage: "Smooth traces with a trailing moving average of this window", Value: 1},
		&cli.StringFlag{Name: "correct-key", Aliases: []string{"k"}, Usage: "Known key in hex, validated against the traces and used for scoring"},
		&cli.IntFlag{Name: "workers", Aliases: []string{"j"}, Usage: "Guesses evaluated in parallel, 0 uses all cores"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Increase verbosity, can be given multiple times"},
		&cli.StringFlag{Name: "log-format", Usage: "Log format: text or json", Value: "text"},
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
		&cli.StringFlag{Name: "metrics-out", Usage: "Write prometheus metrics of the run to this file"},
	}
}

func parseGuess(s string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("invalid guess %q : %v", s, err)
	}
	if v < 0 || v > 0xff {
		return 0, fmt.Errorf("guess %q out of range 0..255", s)
	}
	return int(v), nil
}

//flagOverrides translates the explicitly set flags into the nested layout of dpaRecover.AttackConfig
func flagOverrides(c *cli.Context) (map[string]any, error) {
	attack := map[string]any{}
	plot := map[string]any{}
	log := map[string]any{}
	top := map[string]any{}

	if c.IsSet("randomize") {
		top["randomize"] = c.Bool("randomize")
	}
	if c.IsSet("seed") {
		top["seed"] = c.Uint64("seed")
	}
	if c.IsSet("correct-key") {
		top["correct_key"] = c.String("correct-key")
	}
	if c.IsSet("metrics-out") {
		top["metrics_out"] = c.String("metrics-out")
	}

	if c.IsSet("create-plots") {
		plot["enabled"] = c.Bool("create-plots")
	}
	if c.IsSet("plot-dir") {
		plot["dir"] = c.String("plot-dir")
	}
	if c.IsSet("plot-renderer") {
		plot["renderer"] = c.String("plot-renderer")
	}

	if c.IsSet("max-traces") {
		attack["max_traces"] = c.Int("max-traces")
	}
	if c.IsSet("keybyte") {
		attack["keybytes"] = c.IntSlice("keybyte")
	}
	if c.IsSet("guess") {
		var guesses []int
		for _, s := range c.StringSlice("guess") {
			g, err := parseGuess(s)
			if err != nil {
				return nil, err
			}
			guesses = append(guesses, g)
		}
		attack["guesses"] = guesses
	}
	if c.IsSet("moving-average") {
		attack["moving_average"] = c.Int("moving-average")
	}
	if c.IsSet("workers") {
		attack["workers"] = c.Int("workers")
	}

	if verbosity := c.Count("verbose"); verbosity > 0 {
		log["level"] = logger.LevelForVerbosity(verbosity)
	}
	if c.IsSet("log-format") {
		log["format"] = c.String("log-format")
	}

	for name, section := range map[string]map[string]any{"attack": attack, "plot": plot, "log": log} {
		if len(section) > 0 {
			top[name] = section
		}
	}
	return top, nil
}

func setupAndParseCLI(c *cli.Context) (*application, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one tracefile argument, got %v", c.NArg())
	}
	app := &application{tracePath: c.Args().First()}
	if app.tracePath == "" {
		return nil, fmt.Errorf("tracefile may not be empty")
	}

	flags, err := flagOverrides(c)
	if err != nil {
		return nil, err
	}
	app.loadOpts = dpaRecover.LoadOptions{
		File:  c.String("config"),
		Flags: flags,
	}
	return app, nil
}

func run(ctx context.Context, app *application) error {
	cfg, err := dpaRecover.LoadConfig(app.loadOpts)
	if err != nil {
		return fmt.Errorf("failed to load config : %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger : %w", err)
	}

	if _, err := dpaRecover.RunAttack(ctx, cfg, dpaRecover.RunOptions{
		TracePath: app.tracePath,
		Out:       os.Stdout,
		Log:       log,
	}); err != nil {
		return err
	}
	return nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "dpaAttack",
		Usage:     "Educational tool to demonstrate differential power analysis against AES-128",
		ArgsUsage: "tracefile_json",
		Flags:     attackFlags(),
		//allows -vv
		UseShortOptionHandling: true,
		Action: func(c *cli.Context) error {
			app, err := setupAndParseCLI(c)
			if err != nil {
				return fmt.Errorf("failed to parse cli args : %w", err)
			}
			return run(c.Context, app)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error : %v\n", err)
		stop()
		os.Exit(1)
	}
}
