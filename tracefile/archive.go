// Package tracefile loads and writes JSON trace archives: a meta block plus one record per
// measurement with base64 encoded plaintext, ciphertext and sample payload.
package tracefile

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// BlockSize is the AES block and key size handled by the archive.
const BlockSize = 16

var (
	//ErrFormat is returned when the archive structure is malformed or lacks required fields
	ErrFormat = errors.New("tracefile: format error")
	//ErrDecode is returned when a payload cannot be decoded or is inconsistent with the declared format
	ErrDecode = errors.New("tracefile: decode error")
)

// Format is the numeric type of the sample payload.
type Format string

const (
	FormatUint8 Format = "uint8_t"
	FormatFloat Format = "float"
)

//sampleWidth returns the payload bytes per sample, or 0 for unknown formats
func (f Format) sampleWidth() int {
	switch f {
	case FormatUint8:
		return 1
	case FormatFloat:
		return 4
	default:
		return 0
	}
}

const (
	AlgorithmAES128 = "AES-128"
	ModeEncrypt     = "encrypt"
)

type Meta struct {
	Algorithm string
	Mode      string
	Format    Format
	Created   string
	//CorrectKey is only used for validation and scoring, never by the attack
	CorrectKey []byte
}

type Trace struct {
	Plaintext  [BlockSize]byte
	Ciphertext [BlockSize]byte
	Samples    []float64
}

// Archive is an ordered set of traces sharing one sample count.
type Archive struct {
	Meta   Meta
	Traces []Trace
}

// Len returns the number of traces.
func (a *Archive) Len() int {
	return len(a.Traces)
}

// SampleCount returns the common sample count, 0 for an empty archive.
func (a *Archive) SampleCount() int {
	if len(a.Traces) == 0 {
		return 0
	}
	return len(a.Traces[0].Samples)
}

type rawMeta struct {
	Algorithm string `json:"algorithm,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Format    string `json:"format,omitempty"`
	Created   string `json:"created,omitempty"`
	Key       string `json:"key,omitempty"`
}

type rawTrace struct {
	Plaintext  *string `json:"plaintext"`
	Ciphertext *string `json:"ciphertext"`
	Data       *string `json:"data"`
}

type rawArchive struct {
	Meta   *rawMeta    `json:"meta"`
	Traces *[]rawTrace `json:"traces"`
}

// Load reads the archive at path.
func Load(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file : %w", err)
	}
	defer f.Close()

	a, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Decode parses an archive from r. Structural problems yield ErrFormat, payload problems ErrDecode.
func Decode(r io.Reader) (*Archive, error) {
	raw := rawArchive{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: invalid json : %v", ErrFormat, err)
	}
	if raw.Meta == nil {
		return nil, fmt.Errorf("%w: missing \"meta\"", ErrFormat)
	}
	if raw.Traces == nil {
		return nil, fmt.Errorf("%w: missing \"traces\"", ErrFormat)
	}

	a := &Archive{
		Meta: Meta{
			Algorithm: raw.Meta.Algorithm,
			Mode:      raw.Meta.Mode,
			Format:    Format(raw.Meta.Format),
			Created:   raw.Meta.Created,
		},
	}
	if a.Meta.Format == "" {
		a.Meta.Format = FormatUint8
	}
	if a.Meta.Format.sampleWidth() == 0 {
		return nil, fmt.Errorf("%w: unknown sample format %q", ErrFormat, a.Meta.Format)
	}

	if raw.Meta.Key != "" {
		key, err := decodeBlock(raw.Meta.Key)
		if err != nil {
			return nil, fmt.Errorf("meta key : %w", err)
		}
		a.Meta.CorrectKey = key[:]
	}

	a.Traces = make([]Trace, len(*raw.Traces))
	for i, rt := range *raw.Traces {
		if rt.Plaintext == nil || rt.Ciphertext == nil || rt.Data == nil {
			return nil, fmt.Errorf("%w: trace %v lacks plaintext, ciphertext or data", ErrFormat, i)
		}
		t := &a.Traces[i]
		var err error
		if t.Plaintext, err = decodeBlock(*rt.Plaintext); err != nil {
			return nil, fmt.Errorf("trace %v plaintext : %w", i, err)
		}
		if t.Ciphertext, err = decodeBlock(*rt.Ciphertext); err != nil {
			return nil, fmt.Errorf("trace %v ciphertext : %w", i, err)
		}
		payload, err := base64.StdEncoding.DecodeString(*rt.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: trace %v data : %v", ErrDecode, i, err)
		}
		if t.Samples, err = DecodeSamples(a.Meta.Format, payload); err != nil {
			return nil, fmt.Errorf("trace %v : %w", i, err)
		}
		if len(t.Samples) != len(a.Traces[0].Samples) {
			return nil, fmt.Errorf("%w: trace %v has %v samples, trace 0 has %v", ErrDecode, i, len(t.Samples), len(a.Traces[0].Samples))
		}
	}

	return a, nil
}

func decodeBlock(s string) ([BlockSize]byte, error) {
	var block [BlockSize]byte
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return block, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(buf) != BlockSize {
		return block, fmt.Errorf("%w: got %v bytes, want %v", ErrDecode, len(buf), BlockSize)
	}
	copy(block[:], buf)
	return block, nil
}

// DecodeSamples interprets payload according to format. Raw bytes are returned verbatim
// as 0..255, floats are little endian float32.
func DecodeSamples(format Format, payload []byte) ([]float64, error) {
	switch format {
	case FormatUint8:
		samples := make([]float64, len(payload))
		for i, b := range payload {
			samples[i] = float64(b)
		}
		return samples, nil
	case FormatFloat:
		if len(payload)%4 != 0 {
			return nil, fmt.Errorf("%w: float payload of %v bytes is not a multiple of 4", ErrDecode, len(payload))
		}
		samples := make([]float64, len(payload)/4)
		for i := range samples {
			samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:])))
		}
		return samples, nil
	default:
		return nil, fmt.Errorf("%w: unknown sample format %q", ErrFormat, format)
	}
}

// EncodeSamples is the inverse of DecodeSamples. Raw byte samples are rounded and clamped to 0..255.
func EncodeSamples(format Format, samples []float64) ([]byte, error) {
	switch format {
	case FormatUint8:
		payload := make([]byte, len(samples))
		for i, v := range samples {
			payload[i] = byte(math.Max(0, math.Min(255, math.Round(v))))
		}
		return payload, nil
	case FormatFloat:
		buf := &bytes.Buffer{}
		buf.Grow(4 * len(samples))
		for _, v := range samples {
			if err := binary.Write(buf, binary.LittleEndian, float32(v)); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: unknown sample format %q", ErrFormat, format)
	}
}

// Encode writes the archive as JSON in its declared sample format.
func (a *Archive) Encode(w io.Writer) error {
	format := a.Meta.Format
	if format == "" {
		format = FormatUint8
	}
	meta := &rawMeta{
		Algorithm: a.Meta.Algorithm,
		Mode:      a.Meta.Mode,
		Format:    string(format),
		Created:   a.Meta.Created,
	}
	if a.Meta.CorrectKey != nil {
		meta.Key = base64.StdEncoding.EncodeToString(a.Meta.CorrectKey)
	}

	traces := make([]rawTrace, len(a.Traces))
	for i := range a.Traces {
		payload, err := EncodeSamples(format, a.Traces[i].Samples)
		if err != nil {
			return fmt.Errorf("trace %v : %w", i, err)
		}
		pt := base64.StdEncoding.EncodeToString(a.Traces[i].Plaintext[:])
		ct := base64.StdEncoding.EncodeToString(a.Traces[i].Ciphertext[:])
		data := base64.StdEncoding.EncodeToString(payload)
		traces[i] = rawTrace{Plaintext: &pt, Ciphertext: &ct, Data: &data}
	}

	return json.NewEncoder(w).Encode(rawArchive{Meta: meta, Traces: &traces})
}

// Save writes the archive to path.
func (a *Archive) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %v : %w", path, err)
	}
	if err := a.Encode(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode archive : %w", err)
	}
	return f.Close()
}
