package tracefile

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

//matches both naming schemes written by the trace simulator
var traceFileRegex = regexp.MustCompile(`^(?:trace|AES128_enc)_P_([0-9a-f]{32})_C_([0-9a-f]{32})\.bin$`)

// Combine modes. Only CombineAES128Enc stamps algorithm and mode into the archive, so the
// traces of a CombineRaw archive cannot be validated against a key.
const (
	CombineAES128Enc = "aes128enc"
	CombineRaw       = "raw"
)

// CombineOptions controls CombineDir.
type CombineOptions struct {
	//Mode is CombineAES128Enc or CombineRaw, defaults to CombineAES128Enc
	Mode string
	//Format of the .bin payloads, defaults to FormatUint8
	Format Format
	//CorrectKey is validated against all traces and embedded when set
	CorrectKey []byte
	//Now defaults to time.Now
	Now func() time.Time
}

// CombineDir collects all simulator trace files in dir into one archive.
// Files are taken in lexical order; files not matching the naming scheme are ignored.
func CombineDir(dir string, opts CombineOptions) (*Archive, error) {
	if opts.Format == "" {
		opts.Format = FormatUint8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Mode == "" {
		opts.Mode = CombineAES128Enc
	}
	if opts.Mode != CombineAES128Enc && opts.Mode != CombineRaw {
		return nil, fmt.Errorf("unsupported combine mode %q", opts.Mode)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory : %w", err)
	}

	a := &Archive{
		Meta: Meta{
			Format:  opts.Format,
			Created: opts.Now().UTC().Format("2006-01-02T15:04:05Z"),
		},
		Traces: make([]Trace, 0, len(entries)),
	}
	if opts.Mode == CombineAES128Enc {
		a.Meta.Algorithm = AlgorithmAES128
		a.Meta.Mode = ModeEncrypt
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := traceFileRegex.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		t := Trace{}
		//regex guarantees 32 hex chars
		hex.Decode(t.Plaintext[:], []byte(match[1]))
		hex.Decode(t.Ciphertext[:], []byte(match[2]))

		payload, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %v : %w", e.Name(), err)
		}
		if t.Samples, err = DecodeSamples(opts.Format, payload); err != nil {
			return nil, fmt.Errorf("%v : %w", e.Name(), err)
		}
		if len(a.Traces) > 0 && len(t.Samples) != len(a.Traces[0].Samples) {
			return nil, fmt.Errorf("%w: %v has %v samples, expected %v", ErrDecode, e.Name(), len(t.Samples), len(a.Traces[0].Samples))
		}
		a.Traces = append(a.Traces, t)
	}

	if opts.CorrectKey != nil {
		if _, err := a.SetCorrectKey(opts.CorrectKey); err != nil {
			return nil, err
		}
	}
	return a, nil
}
