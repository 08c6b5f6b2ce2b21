// Package dpa recovers an AES-128 key from power traces with difference-of-means DPA on the
// first round SubBytes.
//
// For every keybyte and key guess the traces are split by the predicted number of bit flips
// of the S-box substitution: traces predicted to flip at most one bit form the low group, traces
// predicted to flip seven or more bits form the high group, the rest is discarded. The guess whose
// averaged high-minus-low difference has the largest peak is taken as the keybyte.
package dpa

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"dpaRecover/logger"
	"dpaRecover/signal"
	"dpaRecover/tracefile"
)

// PlotSink receives the differential trace of every scored guess. Implementations must not block.
type PlotSink interface {
	Submit(keybyte int, guess byte, diff []float64)
}

type Option func(*Attacker)

func WithLogger(l logger.Logger) Option {
	return func(a *Attacker) { a.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(a *Attacker) { a.metrics = m }
}

func WithPlotSink(p PlotSink) Option {
	return func(a *Attacker) { a.plots = p }
}

// Attacker runs the keybyte sweeps over a read-only view of an archive.
type Attacker struct {
	cfg         Config
	traces      []tracefile.Trace
	samples     [][]float64
	totalTraces int

	log     logger.Logger
	metrics *Metrics
	plots   PlotSink
}

// NewAttacker validates cfg, applies the trace cap and precomputes smoothed samples.
// The archive must not be modified while the Attacker is in use.
func NewAttacker(archive *tracefile.Archive, cfg Config, opts ...Option) (*Attacker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	used := archive.Len()
	if cfg.MaxTraces > 0 && cfg.MaxTraces < used {
		used = cfg.MaxTraces
	}

	a := &Attacker{
		cfg:         cfg,
		traces:      archive.Traces[:used],
		samples:     make([][]float64, used),
		totalTraces: archive.Len(),
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = NewMetrics(nil)
	}

	//smoothing does not depend on the guess, so every trace is smoothed once
	for i := range a.traces {
		if n := len(a.traces[0].Samples); len(a.traces[i].Samples) != n {
			return nil, fmt.Errorf("%w: trace %v has %v samples, trace 0 has %v",
				signal.ErrLengthMismatch, i, len(a.traces[i].Samples), n)
		}
		if cfg.MovingAverage == 1 {
			a.samples[i] = a.traces[i].Samples
			continue
		}
		smoothed, err := signal.MovingAverage(a.traces[i].Samples, cfg.MovingAverage)
		if err != nil {
			return nil, fmt.Errorf("failed to smooth trace %v : %w", i, err)
		}
		a.samples[i] = smoothed
	}

	return a, nil
}

// GuessOutcome describes the evaluation of one key guess for one keybyte.
type GuessOutcome struct {
	Keybyte int
	Guess   byte
	Low     int
	High    int
	Used    int
	//Scored is false when the low or the high group was empty
	Scored    bool
	Metric    float64
	PeakIndex int
}

// EvaluateGuess partitions the traces under guess k for keybyte i and computes the differential trace.
// The returned diff is nil when the guess could not be scored.
func (a *Attacker) EvaluateGuess(i int, k byte) (GuessOutcome, []float64) {
	out := GuessOutcome{Keybyte: i, Guess: k, Used: len(a.traces)}

	var low, high [][]float64
	for t := range a.traces {
		bucket, _ := Classify(a.traces[t].Plaintext[i], k)
		switch bucket {
		case BucketLow:
			low = append(low, a.samples[t])
		case BucketHigh:
			high = append(high, a.samples[t])
		}
	}
	out.Low, out.High = len(low), len(high)
	if out.Low == 0 || out.High == 0 {
		return out, nil
	}

	metric, peak, diff, err := differential(low, high)
	if err != nil {
		a.log.Error("failed to compute differential trace",
			"keybyte", i, "guess", fmt.Sprintf("%02x", k), "error", err)
		return out, nil
	}

	out.Scored = true
	out.Metric = metric
	out.PeakIndex = peak
	return out, diff
}

//differential returns the peak of mean(high)-mean(low) and the difference trace itself
func differential(low, high [][]float64) (float64, int, []float64, error) {
	avgLow, err := signal.Average(low)
	if err != nil {
		return 0, 0, nil, err
	}
	avgHigh, err := signal.Average(high)
	if err != nil {
		return 0, 0, nil, err
	}
	diff, err := signal.Difference(avgHigh, avgLow)
	if err != nil {
		return 0, 0, nil, err
	}
	metric, peak, err := signal.Peak(diff)
	if err != nil {
		return 0, 0, nil, err
	}
	return metric, peak, diff, nil
}

// Run attacks all configured keybytes in order. Keybytes without any scored guess stay zero
// in the recovered key and are marked unresolved.
func (a *Attacker) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		UsedTraces:  len(a.traces),
		TotalTraces: a.totalTraces,
	}
	for _, i := range a.cfg.keybytes() {
		kr, err := a.AttackKeybyte(ctx, i)
		if err != nil {
			return res, fmt.Errorf("keybyte %v : %w", i, err)
		}
		if kr.Resolved {
			res.Key[i] = kr.Guess
		}
		res.Keybytes = append(res.Keybytes, kr)
	}
	return res, nil
}

// AttackKeybyte evaluates all configured guesses for keybyte i on a bounded worker pool
// and selects the best one.
func (a *Attacker) AttackKeybyte(ctx context.Context, i int) (KeybyteResult, error) {
	if i < 0 || i >= KeyBytes {
		return KeybyteResult{}, fmt.Errorf("%w: keybyte %v out of range", ErrInvalidConfig, i)
	}
	start := time.Now()
	log := a.log.With("keybyte", i)
	guesses := a.cfg.guesses()

	scores := NewGuessMetrics()
	//each index is written by the single worker owning that guess
	var peaks [KeyGuesses]int
	var unscored atomic.Int64
	best := &bestSoFar{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.workers())
	for pos, k := range guesses {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, diff := a.EvaluateGuess(i, k)
			a.metrics.TracesGrouped.WithLabelValues(BucketLow.String()).Add(float64(out.Low))
			a.metrics.TracesGrouped.WithLabelValues(BucketHigh.String()).Add(float64(out.High))

			if !out.Scored {
				unscored.Add(1)
				a.metrics.GuessesUnscored.Inc()
				log.Info("cannot compute differential trace, a group is empty",
					"guess", fmt.Sprintf("%02x", k), "low", out.Low, "high", out.High)
				return nil
			}

			scores.Store(k, out.Metric)
			peaks[k] = out.PeakIndex
			a.metrics.GuessesScored.Inc()
			bestGuess, bestMetric := best.update(pos, k, out.Metric)

			log.Info("attacked guess",
				"guess", fmt.Sprintf("%02x", k),
				"max_diff", fmt.Sprintf("%6.3f", out.Metric),
				"best", fmt.Sprintf("%02x", bestGuess),
				"best_diff", fmt.Sprintf("%6.3f", bestMetric),
			)
			grouped := out.Low + out.High
			log.Debug("guess grouping",
				"guess", fmt.Sprintf("%02x", k),
				"low", out.Low,
				"high", out.High,
				"used", out.Used,
				"available", a.totalTraces,
				"grouped_pct", fmt.Sprintf("%.0f", 100*float64(grouped)/float64(out.Used)),
				"peak_sample", out.PeakIndex,
			)

			if a.plots != nil {
				a.plots.Submit(i, k, diff)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return KeybyteResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return KeybyteResult{}, err
	}

	kr := KeybyteResult{
		Index:    i,
		Scored:   scores.Len(),
		Unscored: int(unscored.Load()),
		Duration: time.Since(start),
	}
	a.metrics.KeybyteDuration.Observe(kr.Duration.Seconds())

	guess, metric, ok := scores.Best(guesses)
	if !ok {
		a.metrics.KeybytesResolved.WithLabelValues("unresolved").Inc()
		log.Warn("no guess could be scored, keybyte unresolved; retry with more traces",
			"guesses", len(guesses), "traces", len(a.traces))
		return kr, nil
	}
	kr.Resolved = true
	kr.Guess = guess
	kr.Metric = metric
	kr.PeakIndex = peaks[guess]
	a.metrics.KeybytesResolved.WithLabelValues("resolved").Inc()

	if kr.Unscored > 0 {
		log.Warn("some guesses were not scored; retry with more traces if the attack fails",
			"unscored", kr.Unscored, "scored", kr.Scored)
	}
	log.Info("keybyte recovered",
		"guess", fmt.Sprintf("%02x", kr.Guess),
		"max_diff", fmt.Sprintf("%.3f", kr.Metric),
		"peak_sample", kr.PeakIndex,
		"elapsed", kr.Duration.Round(time.Millisecond),
	)
	return kr, nil
}

//bestSoFar tracks the running best for progress output only; selection uses GuessMetrics.Best.
//Ties go to the guess earlier in the configured order, like the final selection.
type bestSoFar struct {
	mu     sync.Mutex
	set    bool
	pos    int
	guess  byte
	metric float64
}

func (b *bestSoFar) update(pos int, guess byte, metric float64) (byte, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.set || metric > b.metric || (metric == b.metric && pos < b.pos) {
		b.set, b.pos, b.guess, b.metric = true, pos, guess, metric
	}
	return b.guess, b.metric
}
