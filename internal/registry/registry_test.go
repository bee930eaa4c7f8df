package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/Rajchodisetti/regime-engine/internal/fault"
)

func TestDefaultRegistrySizeFactors(t *testing.T) {
	r := Default()
	require.Equal(t, 12, r.Len())

	cu, ok := r.Lookup(InstrumentID{Market: "SHFE", Code: "cu"})
	require.True(t, ok)
	iron, ok := r.Lookup(InstrumentID{Market: "DCE", Code: "i"})
	require.True(t, ok)
	au, ok := r.Lookup(InstrumentID{Market: "SHFE", Code: "au"})
	require.True(t, ok)

	assert.InDelta(t, 0.026, cu.SizeFactor, 0.001)
	assert.InDelta(t, 1.00, iron.SizeFactor, 1e-9)
	assert.InDelta(t, 5.38, au.SizeFactor, 0.005)
	assert.Less(t, cu.SizeFactor, iron.SizeFactor)
	assert.Less(t, iron.SizeFactor, au.SizeFactor)

	base, vol := r.Baseline()
	assert.Equal(t, "DCE.i", base.String())
	assert.Equal(t, 27.46, vol)
}

func TestIDsSorted(t *testing.T) {
	ids := Default().IDs()
	for i := 1; i < len(ids); i++ {
		assert.True(t, ids[i-1].Less(ids[i]), "%s before %s", ids[i-1], ids[i])
	}
	assert.Equal(t, "CZCE.MA", ids[0].String())
}

func TestResolve(t *testing.T) {
	r := Default()

	testCases := []struct {
		name   string
		market string
		code   string
		want   string
	}{
		{"instrument_code", "DCE", "i", "DCE.i"},
		{"dated_contract", "DCE", "i2505", "DCE.i"},
		{"continuous_contract", "SHFE", "cu<00>", "SHFE.cu"},
		{"upper_case_code", "CZCE", "TA505", "CZCE.TA"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := r.Resolve(tc.market, tc.code)
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.ID.String())
		})
	}

	_, err := r.Resolve("DCE", "zz2501")
	assert.ErrorIs(t, err, fault.ErrUnknownInstrument)
	_, err = r.Resolve("SHFE", "i2505")
	assert.ErrorIs(t, err, fault.ErrUnknownInstrument)
}

func TestCommodityCode(t *testing.T) {
	assert.Equal(t, "i", CommodityCode("i2505"))
	assert.Equal(t, "cu", CommodityCode("cu<00>"))
	assert.Equal(t, "MA", CommodityCode("MA509"))
	assert.Equal(t, "rb", CommodityCode("rb"))
}

func TestBuildRejectsMalformedTable(t *testing.T) {
	bad := -1.0
	table := Table{
		Baseline: "DCE.i",
		Instruments: []Entry{
			{Market: "DCE", Code: "i", River: 39.93, Lake: 26.36, Volatility: 27.46},
			{Market: "DCE", Code: "j", River: 20, Lake: 30, Volatility: 71.03},
			{Market: "DCE", Code: "i", River: 40, Lake: 20, Volatility: 10},
			{Market: "SHFE", Code: "cu", River: 40, Lake: 20, Volatility: 0},
		},
	}

	r, err := Build(table)
	require.Error(t, err)
	assert.Nil(t, r)
	assert.True(t, fault.Fatal(err))
	assert.Contains(t, err.Error(), "river 20 must exceed lake 30")
	assert.Contains(t, err.Error(), "duplicate instrument DCE.i")
	assert.Contains(t, err.Error(), "volatility 0 must be positive")

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Len(t, multierr.Errors(fe.Err), 3)

	table = Table{
		Baseline:    "DCE.i",
		Instruments: []Entry{{Market: "DCE", Code: "i", River: 39.93, Lake: 26.36, Volatility: 27.46, SizeFactor: &bad}},
	}
	_, err = Build(table)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size factor -1")
}

func TestBuildRejectsEqualThresholds(t *testing.T) {
	_, err := Build(Table{
		BaselineVolatility: 10,
		Instruments:        []Entry{{Market: "DCE", Code: "i", River: 30, Lake: 30, Volatility: 10}},
	})
	assert.ErrorIs(t, err, fault.ErrConfigValidation)
}

func TestBuildRequiresBaseline(t *testing.T) {
	_, err := Build(Table{
		Baseline:    "DCE.j",
		Instruments: []Entry{{Market: "DCE", Code: "i", River: 40, Lake: 30, Volatility: 10}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baseline volatility unresolved")
}

func TestLoadStrictYAML(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
baseline: DCE.i
instruments:
  - {market: DCE, code: i, river: 39.93, lake: 26.36, bull: 0.5811, bear: -0.6582, volatility: 27.46}
  - {market: SHFE, code: au, river: 40.91, lake: 24.98, bull: 0.1485, bear: -0.112, volatility: 5.1}
`), 0o644))

	r, err := Load(good)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []InstrumentID{{Market: "DCE", Code: "i"}, {Market: "SHFE", Code: "au"}}, r.IDs())

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte(`
baseline: DCE.i
instruments:
  - {market: DCE, code: i, river: 39.93, lake: 26.36, volatility: 27.46, colour: red}
`), 0o644))
	_, err = Load(unknown)
	assert.ErrorIs(t, err, fault.ErrConfigValidation)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, fault.ErrConfigValidation)
}

func TestParseID(t *testing.T) {
	id, err := ParseID("SHFE.cu")
	require.NoError(t, err)
	assert.Equal(t, InstrumentID{Market: "SHFE", Code: "cu"}, id)

	for _, s := range []string{"", "cu", ".cu", "SHFE."} {
		_, err := ParseID(s)
		assert.Error(t, err, s)
	}
}

func TestShippedTableMatchesDefault(t *testing.T) {
	shipped, err := Load("../../configs/instruments.yaml")
	require.NoError(t, err)

	def := Default()
	require.Equal(t, def.IDs(), shipped.IDs())
	for _, id := range def.IDs() {
		want, _ := def.Lookup(id)
		got, ok := shipped.Lookup(id)
		require.True(t, ok, id.String())
		assert.Equal(t, want, got, id.String())
	}
}
