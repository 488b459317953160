package fraction

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medtariff/refprice/models"
)

func testTable() Table {
	return Table{
		LevelWidth:      2,
		MinPrefixLength: 5,
		Entries: []Entry{
			{Prefix: "P0908", Min: 0.20, Max: 0.40, Label: "hip component"},
			{Prefix: "P090801", Min: 0.30, Max: 0.35, Label: "femoral stem"},
			{Prefix: "P090802", Min: 0.10, Max: 0.15, Label: "femoral head"},
			{Prefix: "P09080301", Min: 0.32, Max: 0.38, Label: "acetabular cup"},
			{Prefix: "P09080302", Min: 0.18, Max: 0.22, Label: "acetabular liner"},
			{Prefix: "P091001", Min: 0.55, Max: 0.65, Label: "humeral stem"},
			{Prefix: "P091002", Min: 0.35, Max: 0.45, Label: "humeral head"},
		},
		Sets: []SetComposition{
			{SetCode: "P090804", Label: "hip system", Components: []string{"P090801", "P090802", "P09080301", "P09080302"}},
			{SetCode: "P091004", Label: "shoulder system", Components: []string{"P091001", "P091002"}},
			{SetCode: "P090805", Label: "unbalanced", Components: []string{"P090801", "P090802"}},
			{SetCode: "P090806", Label: "unknown part", Components: []string{"P090801", "P0999"}},
		},
	}
}

func newTestEstimator(t *testing.T) *Estimator {
	t.Helper()
	e, err := NewEstimator(testTable())
	require.NoError(t, err)
	return e
}

func TestLookup(t *testing.T) {
	e := newTestEstimator(t)

	testCases := []struct {
		code     string
		expected string
		ok       bool
	}{
		{code: "P090801", expected: "P090801", ok: true},
		{code: "P09080101", expected: "P090801", ok: true},
		{code: "P0908010199", expected: "P090801", ok: true},
		{code: "P09080401", expected: "P0908", ok: true},
		{code: "P0908", expected: "P0908", ok: true},
		{code: "P0909", ok: false},
		{code: "P09", ok: false},
		{code: "", ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.code, func(t *testing.T) {
			en, ok := e.Lookup(tc.code)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, en.Prefix)
		})
	}
}

func TestEstimate(t *testing.T) {
	testCases := []struct {
		name          string
		code          string
		setPrice      int64
		expectedMin   int64
		expectedMax   int64
		expectedMid   int64
		expectedLabel string
	}{
		{name: "Exact entry", code: "P090801", setPrice: 2000, expectedMin: 600, expectedMax: 700, expectedMid: 650, expectedLabel: "femoral stem"},
		{name: "Longest prefix", code: "P09080101", setPrice: 4000, expectedMin: 1200, expectedMax: 1400, expectedMid: 1300, expectedLabel: "femoral stem"},
	}

	e := newTestEstimator(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			est := e.Estimate(tc.code, decimal.NewFromInt(tc.setPrice))

			require.NotNil(t, est)
			assert.Equal(t, tc.expectedLabel, est.Label)
			assert.Equal(t, "P090801", est.MatchedPrefix)
			assert.True(t, decimal.NewFromInt(tc.expectedMin).Equal(est.Min), est.Min.String())
			assert.True(t, decimal.NewFromInt(tc.expectedMax).Equal(est.Max), est.Max.String())
			assert.True(t, decimal.NewFromInt(tc.expectedMid).Equal(est.Midpoint()), est.Midpoint().String())
		})
	}

	assert.Nil(t, e.Estimate("P0912", decimal.NewFromInt(4000)))
}

func TestEstimateRoundsToCents(t *testing.T) {
	e := newTestEstimator(t)

	est := e.Estimate("P090802", decimal.RequireFromString("999.99"))

	require.NotNil(t, est)
	assert.Equal(t, "100.00", est.Min.StringFixed(2))
	assert.Equal(t, "150.00", est.Max.StringFixed(2))
	assert.Equal(t, int32(-2), est.Midpoint().Exponent())
}

func TestNewEstimatorRejectsBadTables(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(tb *Table)
	}{
		{name: "Inverted range", mutate: func(tb *Table) { tb.Entries[0].Min, tb.Entries[0].Max = 0.5, 0.4 }},
		{name: "Above one", mutate: func(tb *Table) { tb.Entries[0].Max = 1.2 }},
		{name: "Negative", mutate: func(tb *Table) { tb.Entries[0].Min = -0.1 }},
		{name: "Duplicate prefix", mutate: func(tb *Table) { tb.Entries = append(tb.Entries, tb.Entries[0]) }},
		{name: "Zero level width", mutate: func(tb *Table) { tb.LevelWidth = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tb := testTable()
			tc.mutate(&tb)

			_, err := NewEstimator(tb)

			assert.ErrorIs(t, err, models.ErrInvalidArgument)
		})
	}
}

func TestSets(t *testing.T) {
	e := newTestEstimator(t)

	s, ok := e.Set("P090804")
	require.True(t, ok)
	assert.Len(t, s.Components, 4)

	_, ok = e.Set("P090801")
	assert.False(t, ok)

	sets := e.Sets()
	require.Len(t, sets, 4)
	assert.Equal(t, "P090804", sets[0].SetCode)
	assert.Equal(t, "P090806", sets[3].SetCode)
}

func TestDecompose(t *testing.T) {
	e := newTestEstimator(t)
	hip, _ := e.Set("P090804")

	d, err := e.Decompose(hip, decimal.NewFromInt(4000), nil)

	require.NoError(t, err)
	require.Len(t, d.Components, 4)
	assert.Equal(t, 1.0, d.FractionSum)
	assert.Empty(t, d.Flags)

	mids := make(map[string]string)
	for _, c := range d.Components {
		mids[c.Code] = c.Estimate.Midpoint().StringFixed(0)
	}
	assert.Equal(t, map[string]string{
		"P090801":   "1300",
		"P090802":   "500",
		"P09080301": "1400",
		"P09080302": "800",
	}, mids)
}

func TestDecomposeChecklist(t *testing.T) {
	e := newTestEstimator(t)
	price := decimal.NewFromInt(4000)

	t.Run("Large component is flagged but passes", func(t *testing.T) {
		shoulder, _ := e.Set("P091004")

		d, err := e.Decompose(shoulder, price, nil)

		require.NoError(t, err)
		require.Len(t, d.Flags, 1)
		assert.Contains(t, d.Flags[0], "P091001")
	})

	t.Run("Fractions must sum to one", func(t *testing.T) {
		unbalanced, _ := e.Set("P090805")

		d, err := e.Decompose(unbalanced, price, nil)

		assert.ErrorIs(t, err, models.ErrValidationFailure)
		require.NotNil(t, d)
		assert.Equal(t, 0.45, d.FractionSum)
	})

	t.Run("Every component needs an entry", func(t *testing.T) {
		broken, _ := e.Set("P090806")

		_, err := e.Decompose(broken, price, nil)

		assert.ErrorIs(t, err, models.ErrValidationFailure)
	})

	t.Run("Corroborated by one observed price", func(t *testing.T) {
		hip, _ := e.Set("P090804")
		observed := map[string][]decimal.Decimal{
			"P090801": {decimal.NewFromInt(100)},
			"P090802": {decimal.NewFromInt(560)},
		}

		_, err := e.Decompose(hip, price, observed)

		assert.NoError(t, err)
	})

	t.Run("No estimate near any observed price", func(t *testing.T) {
		hip, _ := e.Set("P090804")
		observed := map[string][]decimal.Decimal{
			"P090801": {decimal.NewFromInt(100), decimal.Zero},
		}

		_, err := e.Decompose(hip, price, observed)

		assert.ErrorIs(t, err, models.ErrValidationFailure)
	})
}
