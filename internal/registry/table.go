package registry

import (
	"bytes"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/regime-engine/internal/fault"
)

// Table is the on-disk instrument table
type Table struct {
	Baseline           string  `yaml:"baseline"`            // id whose volatility is the sizing reference
	BaselineVolatility float64 `yaml:"baseline_volatility"` // overrides the baseline instrument's volatility
	Instruments        []Entry `yaml:"instruments"`
}

// Entry is one row of the instrument table
type Entry struct {
	Market     string   `yaml:"market"`
	Code       string   `yaml:"code"`
	River      float64  `yaml:"river"`
	Lake       float64  `yaml:"lake"`
	Bull       float64  `yaml:"bull"`
	Bear       float64  `yaml:"bear"`
	Volatility float64  `yaml:"volatility"`
	SizeFactor *float64 `yaml:"size_factor,omitempty"`
}

func (e Entry) validate(i int) error {
	var errs error
	if e.Market == "" || e.Code == "" {
		errs = multierr.Append(errs, fault.Invalid("entry %d: market and code are required", i))
	}
	for name, v := range map[string]float64{
		"river": e.River, "lake": e.Lake, "bull": e.Bull, "bear": e.Bear, "volatility": e.Volatility,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = multierr.Append(errs, fault.Invalid("entry %d: %s is not finite", i, name))
		}
	}
	if !(e.River > e.Lake) {
		errs = multierr.Append(errs, fault.Invalid("entry %d: river %v must exceed lake %v", i, e.River, e.Lake))
	}
	if !(e.Volatility > 0) {
		errs = multierr.Append(errs, fault.Invalid("entry %d: volatility %v must be positive", i, e.Volatility))
	}
	return errs
}

// Load reads a YAML instrument table from path and builds the registry.
// Unknown fields are rejected.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfigValidation, errors.Wrapf(err, "read %s", path), "instrument table")
	}
	return Parse(data)
}

// Parse decodes a YAML instrument table and builds the registry
func Parse(data []byte) (*Registry, error) {
	var t Table
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fault.Wrap(fault.KindConfigValidation, errors.Wrap(err, "decode"), "instrument table")
	}
	return Build(t)
}

// DefaultTable is the built-in twelve-instrument playbook. Iron ore is the
// sizing baseline.
func DefaultTable() Table {
	return Table{
		Baseline: "DCE.i",
		Instruments: []Entry{
			{Market: "DCE", Code: "i", River: 39.93, Lake: 26.36, Bull: 0.5811, Bear: -0.6582, Volatility: 27.46},
			{Market: "DCE", Code: "j", River: 39.18, Lake: 25.82, Bull: 1.6416, Bear: -1.668, Volatility: 71.03},
			{Market: "DCE", Code: "m", River: 43.38, Lake: 26.95, Bull: 1.3177, Bear: -1.2224, Volatility: 63.02},
			{Market: "DCE", Code: "y", River: 39.14, Lake: 25.12, Bull: 2.3359, Bear: -2.418, Volatility: 134.16},
			{Market: "SHFE", Code: "cu", River: 40.05, Lake: 26.56, Bull: 33.0365, Bear: -26.0884, Volatility: 1060.24},
			{Market: "SHFE", Code: "sc", River: 42.22, Lake: 27.64, Bull: 0.3071, Bear: -0.3358, Volatility: 12.36},
			{Market: "SHFE", Code: "al", River: 41.28, Lake: 27.96, Bull: 9.7052, Bear: -7.4529, Volatility: 225.0},
			{Market: "SHFE", Code: "rb", River: 38.92, Lake: 25.79, Bull: 0.9599, Bear: -1.8585, Volatility: 61.97},
			{Market: "SHFE", Code: "au", River: 40.91, Lake: 24.98, Bull: 0.1485, Bear: -0.112, Volatility: 5.1},
			{Market: "SHFE", Code: "ru", River: 39.87, Lake: 25.54, Bull: 5.2485, Bear: -5.9527, Volatility: 305.02},
			{Market: "CZCE", Code: "TA", River: 40.53, Lake: 26.3, Bull: 2.7333, Bear: -1.5562, Volatility: 86.51},
			{Market: "CZCE", Code: "MA", River: 42.02, Lake: 27.37, Bull: 1.2786, Bear: -0.6738, Volatility: 46.71},
		},
	}
}

// Default builds the registry from DefaultTable
func Default() *Registry {
	r, err := Build(DefaultTable())
	if err != nil {
		panic(err)
	}
	return r
}
