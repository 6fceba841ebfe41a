package matching

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/types"
)

// NegativeStockMode decides what happens when supply does not cover an outbound line.
type NegativeStockMode string

const (
	// NegativeStockForbid never allows compensation.
	NegativeStockForbid NegativeStockMode = "forbid"
	// NegativeStockConfirm allows compensation once an operator confirms it.
	NegativeStockConfirm NegativeStockMode = "confirm"
	// NegativeStockAuto lets the document workflow compensate and retry on its own.
	NegativeStockAuto NegativeStockMode = "auto"
)

// ParseNegativeStockMode converts configuration input; empty means forbid.
func ParseNegativeStockMode(s string) (NegativeStockMode, error) {
	switch m := NegativeStockMode(s); m {
	case "":
		return NegativeStockForbid, nil
	case NegativeStockForbid, NegativeStockConfirm, NegativeStockAuto:
		return m, nil
	default:
		return "", fmt.Errorf("unknown negative stock mode %q", s)
	}
}

// ShortfallInput describes an uncovered outbound request.
type ShortfallInput struct {
	Line      *entity.MoveLine
	Requested types.Quantity
	Available types.Quantity
}

// Shortfall is the uncovered quantity.
func (s ShortfallInput) Shortfall() types.Quantity { return s.Requested - s.Available }

// NegativeStockPolicy decides whether a shortfall may be compensated.
// The engine itself never compensates; it only labels the error.
//
// The optional CEL expression narrows which shortfalls qualify, e.g.
//
//	kind == "production_consumption" && shortfall <= 5.0
type NegativeStockPolicy struct {
	mode    NegativeStockMode
	expr    string
	program cel.Program
}

// NewNegativeStockPolicy compiles expr (may be empty) for the given mode.
func NewNegativeStockPolicy(mode NegativeStockMode, expr string) (*NegativeStockPolicy, error) {
	p := &NegativeStockPolicy{mode: mode, expr: expr}
	if expr == "" {
		return p, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("good_id", cel.StringType),
		cel.Variable("warehouse_id", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("lot", cel.StringType),
		cel.Variable("requested", cel.DoubleType),
		cel.Variable("available", cel.DoubleType),
		cel.Variable("shortfall", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile negative stock policy: %w", iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build negative stock policy: %w", err)
	}
	p.program = prg
	return p, nil
}

// ForbidNegativeStock is the default policy.
func ForbidNegativeStock() *NegativeStockPolicy {
	return &NegativeStockPolicy{mode: NegativeStockForbid}
}

// Mode returns the configured mode.
func (p *NegativeStockPolicy) Mode() NegativeStockMode { return p.mode }

// Allows reports whether the shortfall may be compensated.
func (p *NegativeStockPolicy) Allows(ctx context.Context, in ShortfallInput) (bool, error) {
	if p == nil || p.mode == NegativeStockForbid {
		return false, nil
	}
	if p.program == nil {
		return true, nil
	}

	out, _, err := p.program.ContextEval(ctx, map[string]any{
		"good_id":      in.Line.GoodID.String(),
		"warehouse_id": in.Line.WarehouseID.String(),
		"kind":         string(in.Line.Kind),
		"lot":          in.Line.Lot,
		"requested":    in.Requested.Decimal().InexactFloat64(),
		"available":    in.Available.Decimal().InexactFloat64(),
		"shortfall":    in.Shortfall().Decimal().InexactFloat64(),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate negative stock policy: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("negative stock policy %q returned %T, want bool", p.expr, out.Value())
	}
	return allowed, nil
}
