package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pilightgo/pilightd/internal/pulse"
)

// RawID is the synthetic protocol id that reflects a raw pulse train back
// onto the receive path after sending (§4.5, §9 "raw protocol feedback loop").
const RawID = "raw"

type rawCode struct {
	Code string `json:"code"`
}

type rawDecoder struct{}

func (rawDecoder) Decode(f pulse.Frame) (DecodeResult, error) {
	payload, err := json.Marshal(struct {
		Pulses []int `json:"pulses"`
	}{Pulses: f.Pulses})
	if err != nil {
		return DecodeResult{}, err
	}
	return DecodeResult{Matched: true, Payload: payload, Repeats: 1}, nil
}

type rawEncoder struct{}

func (rawEncoder) Encode(code json.RawMessage) (EncodeResult, error) {
	var rc rawCode
	if err := json.Unmarshal(code, &rc); err != nil {
		return EncodeResult{}, fmt.Errorf("raw: %w", err)
	}
	fields := strings.Fields(rc.Code)
	pulses := make([]int, 0, len(fields))
	for _, tok := range fields {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return EncodeResult{}, fmt.Errorf("raw: invalid pulse %q: %w", tok, err)
		}
		pulses = append(pulses, n)
	}
	if len(pulses) < 1 {
		return EncodeResult{}, fmt.Errorf("raw: empty code")
	}
	return EncodeResult{Frame: pulse.Frame{Pulses: pulses, HwType: pulse.AnyHwType}}, nil
}

// NewRawDescriptor builds the synthetic raw protocol registered by every
// broker instance (both decode and encode capable, any hwtype).
func NewRawDescriptor() *Descriptor {
	return &Descriptor{
		ID:      RawID,
		HwType:  pulse.AnyHwType,
		RxRpt:   1,
		TxRpt:   1,
		MinRaw:  1,
		MaxRaw:  pulse.MaxRaw,
		Media:   []string{"all"},
		Decoder: rawDecoder{},
		Encoder: rawEncoder{},
	}
}
