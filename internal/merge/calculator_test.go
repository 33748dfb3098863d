package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderGuard/internal/domain"
	"orderGuard/internal/ports"
)

type mockLogger struct {
	warnMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newCalculator(t *testing.T) (*Calculator, *mockLogger) {
	t.Helper()
	ml := &mockLogger{}
	calc, err := NewCalculator(ml)
	require.NoError(t, err)
	return calc, ml
}

func ladder(prices ...float64) []domain.TPRung {
	tps := make([]domain.TPRung, 0, len(prices))
	for i, p := range prices {
		tps = append(tps, domain.TPRung{Rung: i + 1, Price: p, Fraction: 0.25})
	}
	return tps
}

func TestMergeIdempotence(t *testing.T) {
	calc, _ := newCalculator(t)

	set := domain.OrderSet{
		SLPrice: 2100,
		TPs:     ladder(1900, 1850, 1800, 1750),
	}
	res, err := calc.Merge(context.Background(), Request{
		Symbol:    "ETHUSDT",
		Side:      domain.Short,
		MarkPrice: 2000,
		Approach:  domain.ApproachConservative,
		Existing:  set,
		Requested: set,
	})
	require.NoError(t, err)
	assert.False(t, res.SLChanged)
	assert.False(t, res.TPsChanged)
	assert.False(t, res.ParametersChanged)
	assert.Equal(t, 2100.0, res.SLPrice)
}

func TestMergeConservativeSL(t *testing.T) {
	calc, _ := newCalculator(t)

	t.Run("short keeps higher SL", func(t *testing.T) {
		res, err := calc.Merge(context.Background(), Request{
			Symbol:    "ETHUSDT",
			Side:      domain.Short,
			MarkPrice: 2000,
			Approach:  domain.ApproachConservative,
			Existing:  domain.OrderSet{SLPrice: 2150, TPs: ladder(1900)},
			Requested: domain.OrderSet{SLPrice: 2080, TPs: ladder(1900)},
		})
		require.NoError(t, err)
		assert.Equal(t, 2150.0, res.SLPrice)
		assert.False(t, res.SLChanged) // resolved to the existing value
	})

	t.Run("long keeps lower SL", func(t *testing.T) {
		res, err := calc.Merge(context.Background(), Request{
			Symbol:    "ETHUSDT",
			Side:      domain.Long,
			MarkPrice: 2000,
			Approach:  domain.ApproachConservative,
			Existing:  domain.OrderSet{SLPrice: 1900, TPs: ladder(2100)},
			Requested: domain.OrderSet{SLPrice: 1950, TPs: ladder(2100)},
		})
		require.NoError(t, err)
		assert.Equal(t, 1900.0, res.SLPrice)
	})

	t.Run("new SL adopted when no existing", func(t *testing.T) {
		res, err := calc.Merge(context.Background(), Request{
			Symbol:    "ETHUSDT",
			Side:      domain.Long,
			MarkPrice: 2000,
			Approach:  domain.ApproachConservative,
			Existing:  domain.OrderSet{TPs: ladder(2100)},
			Requested: domain.OrderSet{SLPrice: 1950, TPs: ladder(2100)},
		})
		require.NoError(t, err)
		assert.Equal(t, 1950.0, res.SLPrice)
		assert.True(t, res.SLChanged)
	})
}

func TestMergeStaleSLRejected(t *testing.T) {
	calc, ml := newCalculator(t)

	// A short's SL below the mark is already breached; it must never win the
	// merge no matter how conservative its value looks numerically.
	res, err := calc.Merge(context.Background(), Request{
		Symbol:    "ETHUSDT",
		Side:      domain.Short,
		MarkPrice: 2000,
		Approach:  domain.ApproachConservative,
		Existing:  domain.OrderSet{SLPrice: 1800, TPs: ladder(1900)},
		Requested: domain.OrderSet{SLPrice: 2080, TPs: ladder(1900)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2080.0, res.SLPrice)
	assert.True(t, res.SLChanged)
	assert.NotEmpty(t, ml.warnMsgs)
}

func TestMergeAggressiveTPs(t *testing.T) {
	calc, _ := newCalculator(t)

	t.Run("short keeps lower rung price", func(t *testing.T) {
		res, err := calc.Merge(context.Background(), Request{
			Symbol:    "ETHUSDT",
			Side:      domain.Short,
			MarkPrice: 2000,
			Approach:  domain.ApproachConservative,
			Existing:  domain.OrderSet{SLPrice: 2100, TPs: ladder(1920, 1880)},
			Requested: domain.OrderSet{SLPrice: 2100, TPs: ladder(1950, 1860)},
		})
		require.NoError(t, err)
		require.Len(t, res.TPs, 2)
		assert.Equal(t, 1920.0, res.TPs[0].Price)
		assert.Equal(t, 1860.0, res.TPs[1].Price)
		assert.True(t, res.TPsChanged)
	})

	t.Run("long keeps higher rung price", func(t *testing.T) {
		res, err := calc.Merge(context.Background(), Request{
			Symbol:    "ETHUSDT",
			Side:      domain.Long,
			MarkPrice: 2000,
			Approach:  domain.ApproachConservative,
			Existing:  domain.OrderSet{SLPrice: 1900, TPs: ladder(2080)},
			Requested: domain.OrderSet{SLPrice: 1900, TPs: ladder(2050)},
		})
		require.NoError(t, err)
		require.Len(t, res.TPs, 1)
		assert.Equal(t, 2080.0, res.TPs[0].Price)
	})

	t.Run("quantity follows the new request", func(t *testing.T) {
		existing := domain.OrderSet{
			SLPrice: 2100,
			TPs:     []domain.TPRung{{Rung: 1, Price: 1920, Quantity: 700}},
		}
		requested := domain.OrderSet{
			SLPrice: 2100,
			TPs:     []domain.TPRung{{Rung: 1, Price: 1950, Fraction: 0.85, Quantity: 850}},
		}
		res, err := calc.Merge(context.Background(), Request{
			Symbol:    "ETHUSDT",
			Side:      domain.Short,
			MarkPrice: 2000,
			Approach:  domain.ApproachConservative,
			Existing:  existing,
			Requested: requested,
		})
		require.NoError(t, err)
		require.Len(t, res.TPs, 1)
		assert.Equal(t, 1920.0, res.TPs[0].Price)
		assert.Equal(t, 850.0, res.TPs[0].Quantity)
		assert.Equal(t, 0.85, res.TPs[0].Fraction)
	})

	t.Run("unmatched rungs above the ladder cap are dropped", func(t *testing.T) {
		requested := domain.OrderSet{
			SLPrice: 2100,
			TPs: append(ladder(1950, 1900, 1850, 1800),
				domain.TPRung{Rung: 5, Price: 1700, Fraction: 0.1}),
		}
		res, err := calc.Merge(context.Background(), Request{
			Symbol:    "ETHUSDT",
			Side:      domain.Short,
			MarkPrice: 2000,
			Approach:  domain.ApproachConservative,
			Existing:  domain.OrderSet{},
			Requested: requested,
		})
		require.NoError(t, err)
		assert.Len(t, res.TPs, 4)
	})

	t.Run("fast approach resolves a single rung", func(t *testing.T) {
		res, err := calc.Merge(context.Background(), Request{
			Symbol:    "ETHUSDT",
			Side:      domain.Short,
			MarkPrice: 2000,
			Approach:  domain.ApproachFast,
			Existing:  domain.OrderSet{},
			Requested: domain.OrderSet{SLPrice: 2100, TPs: ladder(1950, 1900)},
		})
		require.NoError(t, err)
		assert.Len(t, res.TPs, 1)
	})
}

func TestMergeKeepsUnmatchedExistingRung(t *testing.T) {
	calc, _ := newCalculator(t)

	res, err := calc.Merge(context.Background(), Request{
		Symbol:    "ETHUSDT",
		Side:      domain.Short,
		MarkPrice: 2000,
		Approach:  domain.ApproachConservative,
		Existing:  domain.OrderSet{SLPrice: 2100, TPs: ladder(1950, 1900)},
		Requested: domain.OrderSet{SLPrice: 2100, TPs: ladder(1950)},
	})
	require.NoError(t, err)
	require.Len(t, res.TPs, 2)
	assert.Equal(t, 1900.0, res.TPs[1].Price)
	assert.False(t, res.TPsChanged)
}

func TestMergeWrongSideValidation(t *testing.T) {
	calc, _ := newCalculator(t)

	t.Run("short TP above mark rejected", func(t *testing.T) {
		_, err := calc.Merge(context.Background(), Request{
			Symbol:    "ETHUSDT",
			Side:      domain.Short,
			MarkPrice: 2000,
			Approach:  domain.ApproachConservative,
			Existing:  domain.OrderSet{},
			Requested: domain.OrderSet{SLPrice: 2100, TPs: ladder(2050)},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ports.ErrValidation)
	})

	t.Run("long SL above mark rejected", func(t *testing.T) {
		_, err := calc.Merge(context.Background(), Request{
			Symbol:    "ETHUSDT",
			Side:      domain.Long,
			MarkPrice: 2000,
			Approach:  domain.ApproachConservative,
			Existing:  domain.OrderSet{},
			Requested: domain.OrderSet{SLPrice: 2050, TPs: ladder(2100)},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ports.ErrValidation)
	})

	t.Run("non-positive mark price rejected", func(t *testing.T) {
		_, err := calc.Merge(context.Background(), Request{
			Symbol:   "ETHUSDT",
			Side:     domain.Short,
			Approach: domain.ApproachConservative,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ports.ErrValidation)
	})
}
