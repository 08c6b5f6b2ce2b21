// Package dpaRecover wires trace loading, the DPA attack, plot export and reporting into one run.
package dpaRecover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"dpaRecover/dpa"
	"dpaRecover/logger"
	"dpaRecover/plot"
	"dpaRecover/report"
	"dpaRecover/tracefile"
)

// plotDrainTimeout bounds how long a finished run waits for queued plots.
const plotDrainTimeout = time.Minute

// NewRunID returns a sortable unique id used to correlate the log lines of one run.
func NewRunID() string {
	return ulid.Make().String()
}

// RunOptions are the runtime collaborators of RunAttack.
type RunOptions struct {
	TracePath string
	//Out receives the final report, defaults to stdout
	Out io.Writer
	Log logger.Logger
	//Registry collects the run metrics. A private registry is used if nil
	Registry *prometheus.Registry
}

// RunAttack loads the tracefile, optionally validates the correct key and shuffles the traces,
// attacks the configured keybytes and writes the report.
func RunAttack(ctx context.Context, cfg AttackConfig, opts RunOptions) (*dpa.Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("run_id", NewRunID())
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	archive, err := tracefile.Load(opts.TracePath)
	if err != nil {
		return nil, err
	}
	log.Info("loaded tracefile", "path", opts.TracePath, "traces", archive.Len(),
		"samples", archive.SampleCount(), "format", archive.Meta.Format)

	if cfg.CorrectKey != "" {
		key, err := ParseKey(cfg.CorrectKey)
		if err != nil {
			return nil, err
		}
		stored, err := archive.SetCorrectKey(key)
		switch {
		case errors.Is(err, tracefile.ErrUnsupportedMode):
			//the key only serves scoring, so the attack still runs without ground truth
			log.Warn("cannot validate supplied key for algorithm/mode, reporting without ground truth",
				"algorithm", archive.Meta.Algorithm, "mode", archive.Meta.Mode)
		case err != nil:
			return nil, fmt.Errorf("supplied correct key rejected : %w", err)
		case stored:
			log.Info("validated correct key against all traces")
		default:
			log.Warn("tracefile already contains a correct key, ignoring the supplied one")
		}
	}

	if cfg.Randomize {
		seed := cfg.Seed
		if seed == 0 {
			seed = rand.Uint64()
		}
		log.Info("shuffling traces", "seed", seed)
		archive.Shuffle(rand.New(rand.NewPCG(seed, seed)))
	}

	attackOpts := []dpa.Option{dpa.WithLogger(log), dpa.WithMetrics(dpa.NewMetrics(reg))}
	var exporter *plot.Exporter
	if cfg.Plot.Enabled {
		exporter, err = plot.NewExporter(cfg.Plot, plot.WithLogger(log), plot.WithMetrics(plot.NewMetrics(reg)))
		if err != nil {
			return nil, err
		}
		attackOpts = append(attackOpts, dpa.WithPlotSink(exporter))
	}

	attacker, err := dpa.NewAttacker(archive, cfg.Attack, attackOpts...)
	if err != nil {
		return nil, err
	}
	res, attackErr := attacker.Run(ctx)

	if exporter != nil {
		timeout := plotDrainTimeout
		if attackErr != nil {
			timeout = 0
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := exporter.Close(closeCtx); err != nil {
			log.Warn("abandoned pending plots", "error", err)
		}
		cancel()
	}
	if attackErr != nil {
		return res, attackErr
	}

	if err := report.Write(out, res, archive.Meta.CorrectKey); err != nil {
		return res, err
	}

	if cfg.MetricsOut != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsOut, reg); err != nil {
			log.Error("failed to write metrics", "path", cfg.MetricsOut, "error", err)
		}
	}
	return res, nil
}
