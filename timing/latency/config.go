package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds execution latency values per op class.
// Defaults approximate a contemporary out-of-order core.
type TimingConfig struct {
	// IntAluLatency is the latency of basic integer ALU operations.
	// Default: 1 cycle.
	IntAluLatency int `json:"int_alu_latency"`

	// IntMultLatency is the latency of integer multiplies.
	// Default: 3 cycles.
	IntMultLatency int `json:"int_mult_latency"`

	// IntDivLatency is the latency of integer divides.
	// Default: 8 cycles.
	IntDivLatency int `json:"int_div_latency"`

	// IntDivPipelined selects whether the divider accepts a new operation
	// every cycle. Default: false (iterative divider).
	IntDivPipelined bool `json:"int_div_pipelined"`

	// FloatAddLatency is the latency of FP add/sub. Default: 3 cycles.
	FloatAddLatency int `json:"float_add_latency"`

	// FloatCmpLatency is the latency of FP compares. Default: 2 cycles.
	FloatCmpLatency int `json:"float_cmp_latency"`

	// FloatCvtLatency is the latency of FP converts. Default: 3 cycles.
	FloatCvtLatency int `json:"float_cvt_latency"`

	// FloatMultLatency is the latency of FP multiplies. Default: 3 cycles.
	FloatMultLatency int `json:"float_mult_latency"`

	// FloatDivLatency is the latency of FP divides. Default: 12 cycles.
	FloatDivLatency int `json:"float_div_latency"`

	// FloatDivPipelined selects whether the FP divider is pipelined.
	// Default: false.
	FloatDivPipelined bool `json:"float_div_pipelined"`

	// FMALatency is the latency of each half of a fused multiply-add.
	// Default: 3 cycles.
	FMALatency int `json:"fma_latency"`

	// LoadLatency is the load-to-use latency assuming an L1 hit.
	// Default: 3 cycles.
	LoadLatency int `json:"load_latency"`

	// StoreLatency is the latency of stores (fire-and-forget to the
	// store queue). Default: 1 cycle.
	StoreLatency int `json:"store_latency"`

	// VecAluLatency is the latency of vector ALU operations.
	// Default: 2 cycles.
	VecAluLatency int `json:"vec_alu_latency"`

	// VecLoadLatency is the latency of vector loads. Default: 4 cycles.
	VecLoadLatency int `json:"vec_load_latency"`
}

// DefaultTimingConfig returns a TimingConfig with the default values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		IntAluLatency:    1,
		IntMultLatency:   3,
		IntDivLatency:    8,
		FloatAddLatency:  3,
		FloatCmpLatency:  2,
		FloatCvtLatency:  3,
		FloatMultLatency: 3,
		FloatDivLatency:  12,
		FMALatency:       3,
		LoadLatency:      3,
		StoreLatency:     1,
		VecAluLatency:    2,
		VecLoadLatency:   4,
	}
}

// LoadConfig loads a TimingConfig from a JSON file.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that all latency values are valid (> 0).
func (c *TimingConfig) Validate() error {
	fields := []struct {
		name  string
		value int
	}{
		{"int_alu_latency", c.IntAluLatency},
		{"int_mult_latency", c.IntMultLatency},
		{"int_div_latency", c.IntDivLatency},
		{"float_add_latency", c.FloatAddLatency},
		{"float_cmp_latency", c.FloatCmpLatency},
		{"float_cvt_latency", c.FloatCvtLatency},
		{"float_mult_latency", c.FloatMultLatency},
		{"float_div_latency", c.FloatDivLatency},
		{"fma_latency", c.FMALatency},
		{"load_latency", c.LoadLatency},
		{"store_latency", c.StoreLatency},
		{"vec_alu_latency", c.VecAluLatency},
		{"vec_load_latency", c.VecLoadLatency},
	}
	for _, f := range fields {
		if f.value <= 0 {
			return fmt.Errorf("%s must be > 0", f.name)
		}
	}
	return nil
}

// Clone returns a copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
