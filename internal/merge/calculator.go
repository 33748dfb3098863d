package merge

import (
	"context"
	"fmt"
	"math"

	"orderGuard/internal/domain"
	"orderGuard/internal/ports"
)

// priceTolerance bounds float comparison noise when deciding whether a
// resolved value actually differs from the existing one.
const priceTolerance = 1e-9

// Request is the ephemeral input to one merge calculation: the protective
// order set currently found at the venue and the newly requested one, for the
// same instrument and side.
type Request struct {
	Symbol    string
	Side      domain.PositionSide
	MarkPrice float64
	Approach  domain.ApproachKind
	Existing  domain.OrderSet
	Requested domain.OrderSet
}

// Result is the outcome of a merge. The caller decides whether to act on it.
type Result struct {
	SLPrice           float64
	TPs               []domain.TPRung
	SLChanged         bool
	TPsChanged        bool
	ParametersChanged bool
}

// Calculator combines an existing protective order set with a newly requested
// one using conservative tie-break rules: the stop-loss keeps the safer of the
// two prices, each take-profit rung keeps the more aggressive one, and the new
// request is always authoritative for sizing.
type Calculator struct {
	logger ports.Logger
}

// NewCalculator creates a merge calculator.
func NewCalculator(logger ports.Logger) (*Calculator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for merge calculator")
	}
	return &Calculator{logger: logger}, nil
}

// Merge resolves the two order sets. It fails with ports.ErrValidation when
// the resolved set would sit on the wrong side of the current mark price;
// nothing is ever sent to the venue in that case.
func (c *Calculator) Merge(ctx context.Context, req Request) (*Result, error) {
	op := "Merge"
	if req.MarkPrice <= 0 {
		return nil, fmt.Errorf("%s: mark price must be positive: %w", op, ports.ErrValidation)
	}
	if req.Side != domain.Long && req.Side != domain.Short {
		return nil, fmt.Errorf("%s: unknown position side %q: %w", op, req.Side, ports.ErrValidation)
	}

	res := &Result{}

	// 1. Stop-loss resolution. An existing SL already breached by the mark
	// price is stale venue state, not a candidate.
	existingSL := req.Existing.SLPrice
	if existingSL > 0 && !slOnValidSide(req.Side, existingSL, req.MarkPrice) {
		c.logger.Warn(ctx, op+": discarding existing SL on wrong side of mark", map[string]interface{}{
			"symbol":    req.Symbol,
			"side":      req.Side,
			"slPrice":   existingSL,
			"markPrice": req.MarkPrice,
		})
		existingSL = 0
	}

	switch {
	case existingSL > 0 && req.Requested.HasSL():
		if req.Side == domain.Short {
			res.SLPrice = math.Max(existingSL, req.Requested.SLPrice)
		} else {
			res.SLPrice = math.Min(existingSL, req.Requested.SLPrice)
		}
	case existingSL > 0:
		res.SLPrice = existingSL
	default:
		res.SLPrice = req.Requested.SLPrice
	}

	// 2. Per-rung take-profit resolution. Quantity always follows the new
	// request; the merge only arbitrates prices.
	rungCap := len(req.Approach.FractionTable())
	if rungCap > domain.MaxRungs {
		rungCap = domain.MaxRungs
	}
	for rung := 1; rung <= rungCap; rung++ {
		existing := req.Existing.RungByNumber(rung)
		requested := req.Requested.RungByNumber(rung)

		switch {
		case existing != nil && requested != nil:
			merged := *requested
			if req.Side == domain.Short {
				merged.Price = math.Min(existing.Price, requested.Price)
			} else {
				merged.Price = math.Max(existing.Price, requested.Price)
			}
			res.TPs = append(res.TPs, merged)
		case requested != nil:
			res.TPs = append(res.TPs, *requested)
		case existing != nil:
			res.TPs = append(res.TPs, *existing)
		}
	}

	// 3. Change detection against the existing set.
	res.SLChanged = !floatsEqual(res.SLPrice, req.Existing.SLPrice)
	res.TPsChanged = tpsDiffer(res.TPs, req.Existing.TPs)
	res.ParametersChanged = res.SLChanged || res.TPsChanged

	// 4. Wrong-side validation on the resolved set.
	if res.SLPrice > 0 && !slOnValidSide(req.Side, res.SLPrice, req.MarkPrice) {
		return nil, fmt.Errorf("%s: resolved SL %.8f on wrong side of mark %.8f for %s: %w",
			op, res.SLPrice, req.MarkPrice, req.Side, ports.ErrValidation)
	}
	for _, tp := range res.TPs {
		if !tpOnValidSide(req.Side, tp.Price, req.MarkPrice) {
			return nil, fmt.Errorf("%s: resolved TP%d %.8f on wrong side of mark %.8f for %s: %w",
				op, tp.Rung, tp.Price, req.MarkPrice, req.Side, ports.ErrValidation)
		}
	}

	c.logger.Debug(ctx, op+": resolved order set", map[string]interface{}{
		"symbol":     req.Symbol,
		"slPrice":    res.SLPrice,
		"tpCount":    len(res.TPs),
		"slChanged":  res.SLChanged,
		"tpsChanged": res.TPsChanged,
	})
	return res, nil
}

// slOnValidSide reports whether a stop-loss is on the protective side of the
// mark: above it for a short, below it for a long.
func slOnValidSide(side domain.PositionSide, sl, mark float64) bool {
	if side == domain.Short {
		return sl > mark
	}
	return sl < mark
}

// tpOnValidSide reports whether a take-profit is on the profitable side of the
// mark: below it for a short, above it for a long.
func tpOnValidSide(side domain.PositionSide, tp, mark float64) bool {
	if side == domain.Short {
		return tp < mark
	}
	return tp > mark
}

func floatsEqual(a, b float64) bool {
	return math.Abs(a-b) <= priceTolerance
}

func tpsDiffer(resolved, existing []domain.TPRung) bool {
	if len(resolved) != len(existing) {
		return true
	}
	for _, tp := range resolved {
		match := rungByNumber(existing, tp.Rung)
		if match == nil {
			return true
		}
		if !floatsEqual(tp.Price, match.Price) {
			return true
		}
		// Quantity counts as a parameter change only when the existing rung
		// carries a known quantity to compare against.
		if match.Quantity > 0 && tp.Quantity > 0 && !floatsEqual(tp.Quantity, match.Quantity) {
			return true
		}
	}
	return false
}

func rungByNumber(tps []domain.TPRung, rung int) *domain.TPRung {
	for i := range tps {
		if tps[i].Rung == rung {
			return &tps[i]
		}
	}
	return nil
}
