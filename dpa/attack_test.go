package dpa

import (
	"bytes"
	"context"
	"crypto/aes"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"dpaRecover/logger"
	"dpaRecover/signal"
	"dpaRecover/tracefile"
)

var testKey = [KeyBytes]byte{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}

//leakingArchive returns traces whose sample j is the predicted flip count of keybyte j under key
func leakingArchive(t *testing.T, n int, key [KeyBytes]byte, seed uint64) *tracefile.Archive {
	t.Helper()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatalf("aes.NewCipher : %v", err)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	a := &tracefile.Archive{
		Meta: tracefile.Meta{
			Algorithm: tracefile.AlgorithmAES128,
			Mode:      tracefile.ModeEncrypt,
			Format:    tracefile.FormatFloat,
		},
	}
	for i := 0; i < n; i++ {
		var tr tracefile.Trace
		for j := range tr.Plaintext {
			tr.Plaintext[j] = byte(rng.UintN(256))
		}
		block.Encrypt(tr.Ciphertext[:], tr.Plaintext[:])
		tr.Samples = make([]float64, KeyBytes)
		for j := range tr.Samples {
			tr.Samples[j] = float64(Flips(tr.Plaintext[j], key[j]))
		}
		a.Traces = append(a.Traces, tr)
	}
	return a
}

type recordingSink struct {
	mu    sync.Mutex
	calls map[int]int
}

func (r *recordingSink) Submit(keybyte int, _ byte, diff []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[int]int{}
	}
	if diff != nil {
		r.calls[keybyte]++
	}
}

func TestAttacker_RecoversKey(t *testing.T) {
	archive := leakingArchive(t, 512, testKey, 1)
	cfg := DefaultConfig()
	cfg.Workers = 4

	attacker, err := NewAttacker(archive, cfg)
	if err != nil {
		t.Fatalf("NewAttacker() : %v", err)
	}
	res, err := attacker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() : %v", err)
	}
	if res.Key != testKey {
		t.Fatalf("recovered key %x, want %x", res.Key, testKey)
	}
	if len(res.Keybytes) != KeyBytes {
		t.Fatalf("got %v keybyte results", len(res.Keybytes))
	}
	for i, kr := range res.Keybytes {
		if kr.Index != i || !kr.Resolved {
			t.Errorf("keybyte %v: index %v resolved %v", i, kr.Index, kr.Resolved)
		}
		//correct guess separates samples >= 7 from samples <= 1 at the leaking index
		if kr.Metric < 6 {
			t.Errorf("keybyte %v: metric %v, want at least 6", i, kr.Metric)
		}
		if kr.PeakIndex != i {
			t.Errorf("keybyte %v: peak at sample %v", i, kr.PeakIndex)
		}
		if kr.Scored+kr.Unscored != KeyGuesses {
			t.Errorf("keybyte %v: %v scored + %v unscored", i, kr.Scored, kr.Unscored)
		}
	}
	if res.UsedTraces != 512 || res.TotalTraces != 512 {
		t.Errorf("used %v of %v traces", res.UsedTraces, res.TotalTraces)
	}
	if len(res.Unresolved()) != 0 {
		t.Errorf("Unresolved() = %v", res.Unresolved())
	}
}

func TestAttacker_WorkerCountDoesNotChangeResult(t *testing.T) {
	archive := leakingArchive(t, 384, testKey, 7)
	var keys [][KeyBytes]byte
	for _, workers := range []int{1, 3, 16} {
		cfg := DefaultConfig()
		cfg.Workers = workers
		cfg.Keybytes = []int{0, 7, 15}
		attacker, err := NewAttacker(archive, cfg)
		if err != nil {
			t.Fatalf("NewAttacker() : %v", err)
		}
		res, err := attacker.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() : %v", err)
		}
		keys = append(keys, res.Key)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] != keys[0] {
			t.Errorf("run %v recovered %x, run 0 recovered %x", i, keys[i], keys[0])
		}
	}
}

func TestAttacker_TieKeepsFirstConfiguredGuess(t *testing.T) {
	archive := leakingArchive(t, 512, testKey, 2)
	for i := range archive.Traces {
		for j := range archive.Traces[i].Samples {
			archive.Traces[i].Samples[j] = 0
		}
	}

	tests := []struct {
		guesses []int
		want    byte
	}{
		{[]int{5, 3}, 5},
		{[]int{3, 5}, 3},
		{[]int{0xff, 0x00, 0x80}, 0xff},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Keybytes = []int{0}
		cfg.Guesses = tt.guesses
		cfg.Workers = 8
		attacker, err := NewAttacker(archive, cfg)
		if err != nil {
			t.Fatalf("NewAttacker() : %v", err)
		}
		res, err := attacker.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() : %v", err)
		}
		kr := res.Keybytes[0]
		if !kr.Resolved || kr.Guess != tt.want || kr.Metric != 0 {
			t.Errorf("guesses %v: got guess %v metric %v resolved %v, want %v", tt.guesses, kr.Guess, kr.Metric, kr.Resolved, tt.want)
		}
	}
}

func TestAttacker_EmptyGroupsLeaveKeybyteUnresolved(t *testing.T) {
	archive := leakingArchive(t, 1, testKey, 3)
	cfg := DefaultConfig()
	cfg.Keybytes = []int{0, 1}

	attacker, err := NewAttacker(archive, cfg)
	if err != nil {
		t.Fatalf("NewAttacker() : %v", err)
	}
	res, err := attacker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() : %v", err)
	}
	for _, kr := range res.Keybytes {
		if kr.Resolved {
			t.Errorf("keybyte %v resolved from a single trace", kr.Index)
		}
		if kr.Unscored != KeyGuesses || kr.Scored != 0 {
			t.Errorf("keybyte %v: %v scored %v unscored", kr.Index, kr.Scored, kr.Unscored)
		}
	}
	if res.Key != [KeyBytes]byte{} {
		t.Errorf("unresolved key %x, want all zero", res.Key)
	}
	if got := res.Unresolved(); len(got) != 2 {
		t.Errorf("Unresolved() = %v", got)
	}
}

func TestAttacker_MaxTracesAndKeybyteOrder(t *testing.T) {
	archive := leakingArchive(t, 512, testKey, 4)
	cfg := DefaultConfig()
	cfg.MaxTraces = 1
	cfg.Keybytes = []int{3, 1}

	attacker, err := NewAttacker(archive, cfg)
	if err != nil {
		t.Fatalf("NewAttacker() : %v", err)
	}
	res, err := attacker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() : %v", err)
	}
	if res.UsedTraces != 1 || res.TotalTraces != 512 {
		t.Errorf("used %v of %v traces, want 1 of 512", res.UsedTraces, res.TotalTraces)
	}
	if len(res.Keybytes) != 2 || res.Keybytes[0].Index != 3 || res.Keybytes[1].Index != 1 {
		t.Fatalf("keybyte order %+v", res.Keybytes)
	}

	cfg.MaxTraces = 10000
	attacker, err = NewAttacker(archive, cfg)
	if err != nil {
		t.Fatalf("NewAttacker() : %v", err)
	}
	res, err = attacker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() : %v", err)
	}
	if res.UsedTraces != 512 {
		t.Errorf("cap above archive size used %v traces", res.UsedTraces)
	}
	want := [KeyBytes]byte{}
	want[1], want[3] = testKey[1], testKey[3]
	if res.Key != want {
		t.Errorf("recovered %x, want %x", res.Key, want)
	}
}

func TestAttacker_MovingAverageMatchesPresmoothed(t *testing.T) {
	raw := leakingArchive(t, 256, testKey, 5)
	smoothed := leakingArchive(t, 256, testKey, 5)
	for i := range smoothed.Traces {
		s, err := signal.MovingAverage(smoothed.Traces[i].Samples, 3)
		if err != nil {
			t.Fatalf("MovingAverage() : %v", err)
		}
		smoothed.Traces[i].Samples = s
	}

	cfg := DefaultConfig()
	cfg.MovingAverage = 3
	a, err := NewAttacker(raw, cfg)
	if err != nil {
		t.Fatalf("NewAttacker() : %v", err)
	}
	b, err := NewAttacker(smoothed, DefaultConfig())
	if err != nil {
		t.Fatalf("NewAttacker() : %v", err)
	}
	for _, k := range []byte{0x00, testKey[2], 0x91} {
		got, _ := a.EvaluateGuess(2, k)
		want, _ := b.EvaluateGuess(2, k)
		if got.Scored != want.Scored || got.PeakIndex != want.PeakIndex || math.Abs(got.Metric-want.Metric) > 1e-9 {
			t.Errorf("guess %v: got %+v, want %+v", k, got, want)
		}
	}
	//the raw archive is left untouched
	if raw.Traces[0].Samples[1] != float64(Flips(raw.Traces[0].Plaintext[1], testKey[1])) {
		t.Errorf("smoothing modified archive samples")
	}
}

func TestAttacker_PlotSinkAndMetrics(t *testing.T) {
	archive := leakingArchive(t, 256, testKey, 6)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	sink := &recordingSink{}

	cfg := DefaultConfig()
	cfg.Keybytes = []int{4, 9}
	attacker, err := NewAttacker(archive, cfg, WithMetrics(metrics), WithPlotSink(sink))
	if err != nil {
		t.Fatalf("NewAttacker() : %v", err)
	}
	res, err := attacker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() : %v", err)
	}

	scored := 0
	for _, kr := range res.Keybytes {
		scored += kr.Scored
		if sink.calls[kr.Index] != kr.Scored {
			t.Errorf("keybyte %v: %v plots submitted, %v guesses scored", kr.Index, sink.calls[kr.Index], kr.Scored)
		}
	}
	if got := testutil.ToFloat64(metrics.GuessesScored); got != float64(scored) {
		t.Errorf("guesses_scored_total = %v, want %v", got, scored)
	}
	total := testutil.ToFloat64(metrics.GuessesScored) + testutil.ToFloat64(metrics.GuessesUnscored)
	if total != 2*KeyGuesses {
		t.Errorf("scored + unscored = %v, want %v", total, 2*KeyGuesses)
	}
	if got := testutil.ToFloat64(metrics.KeybytesResolved.WithLabelValues("resolved")); got != 2 {
		t.Errorf("resolved keybytes = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(metrics.KeybyteDuration); got != 1 {
		t.Errorf("duration histogram collected %v metrics", got)
	}
}

func TestAttacker_Cancelled(t *testing.T) {
	archive := leakingArchive(t, 64, testKey, 8)
	attacker, err := NewAttacker(archive, DefaultConfig())
	if err != nil {
		t.Fatalf("NewAttacker() : %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := attacker.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestNewAttacker_InvalidConfig(t *testing.T) {
	archive := leakingArchive(t, 4, testKey, 9)
	if _, err := NewAttacker(archive, Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewAttacker() error = %v, want ErrInvalidConfig", err)
	}
}

func TestResult_HexKey(t *testing.T) {
	res := &Result{Key: testKey}
	want := "2b 7e 15 16 28 ae d2 a6 ab f7 15 88 09 cf 4f 3c"
	if got := res.HexKey(); got != want {
		t.Errorf("HexKey() = %q, want %q", got, want)
	}
}

func TestNewAttacker_RaggedTraces(t *testing.T) {
	archive := leakingArchive(t, 16, testKey, 13)
	archive.Traces[7].Samples = archive.Traces[7].Samples[:3]
	if _, err := NewAttacker(archive, DefaultConfig()); !errors.Is(err, signal.ErrLengthMismatch) {
		t.Errorf("NewAttacker() error = %v, want ErrLengthMismatch", err)
	}

	//traces beyond the cap are not attacked and not checked
	cfg := DefaultConfig()
	cfg.MaxTraces = 7
	if _, err := NewAttacker(archive, cfg); err != nil {
		t.Errorf("NewAttacker() with cap before ragged trace : %v", err)
	}
}

type progressUpdate struct {
	pos    int
	guess  byte
	metric float64
}

func TestBestSoFar_TieFollowsConfiguredOrder(t *testing.T) {
	tests := []struct {
		name      string
		updates   []progressUpdate
		wantGuess byte
	}{
		{
			name:      "earlier position wins tie even with larger guess",
			updates:   []progressUpdate{{1, 0x03, 2}, {0, 0x05, 2}},
			wantGuess: 0x05,
		},
		{
			name:      "later position loses tie",
			updates:   []progressUpdate{{0, 0x05, 2}, {1, 0x03, 2}},
			wantGuess: 0x05,
		},
		{
			name:      "larger metric wins",
			updates:   []progressUpdate{{0, 0x05, 2}, {1, 0x03, 2.5}},
			wantGuess: 0x03,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &bestSoFar{}
			var got byte
			for _, u := range tt.updates {
				got, _ = b.update(u.pos, u.guess, u.metric)
			}
			if got != tt.wantGuess {
				t.Errorf("best = %02x, want %02x", got, tt.wantGuess)
			}
		})
	}
}

func TestAttacker_ProgressLoggedAtInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := logger.New(logger.Config{Level: "info", Format: "text", Output: buf})
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Keybytes = []int{0}
	cfg.Guesses = []int{int(testKey[0])}
	cfg.Workers = 1
	attacker, err := NewAttacker(leakingArchive(t, 128, testKey, 14), cfg, WithLogger(log))
	if err != nil {
		t.Fatalf("NewAttacker() : %v", err)
	}
	if _, err := attacker.Run(context.Background()); err != nil {
		t.Fatalf("Run() : %v", err)
	}
	if !strings.Contains(buf.String(), "attacked guess") {
		t.Errorf("per-guess progress missing at info level:\n%v", buf.String())
	}
	if strings.Contains(buf.String(), "guess grouping") {
		t.Errorf("debug detail logged at info level:\n%v", buf.String())
	}
}
