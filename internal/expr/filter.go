package expr

// CompareOp names a FilterExpression comparison.
type CompareOp int

const (
	CmpEq CompareOp = iota
	CmpNeq
	CmpGt
	CmpGte
	CmpLt
	CmpLte
)

// FilterExpr evaluates to a tri-state bool: ok=false means "reject" —
// either side's TransformExpr was absent or hit a domain violation (spec.md
// §4.H "absent/invalid yields reject").
type FilterExpr interface {
	Eval(in Input) (bool, bool)
}

// CompareExpr compares two TransformExprs evaluated against the same Input.
type CompareExpr struct {
	Op          CompareOp
	Left, Right TransformExpr
}

func (e CompareExpr) Eval(in Input) (bool, bool) {
	l, ok := e.Left.Eval(in)
	if !ok {
		return false, false
	}
	r, ok := e.Right.Eval(in)
	if !ok {
		return false, false
	}
	switch e.Op {
	case CmpEq:
		return l == r, true
	case CmpNeq:
		return l != r, true
	case CmpGt:
		return l > r, true
	case CmpGte:
		return l >= r, true
	case CmpLt:
		return l < r, true
	case CmpLte:
		return l <= r, true
	default:
		return false, false
	}
}

// AndExpr is a short-circuit-free conjunction: both sides must evaluate to
// reject nothing.
type AndExpr struct{ Left, Right FilterExpr }

func (e AndExpr) Eval(in Input) (bool, bool) {
	l, ok := e.Left.Eval(in)
	if !ok {
		return false, false
	}
	r, ok := e.Right.Eval(in)
	if !ok {
		return false, false
	}
	return l && r, true
}

// OrExpr is the disjunction counterpart of AndExpr.
type OrExpr struct{ Left, Right FilterExpr }

func (e OrExpr) Eval(in Input) (bool, bool) {
	l, ok := e.Left.Eval(in)
	if !ok {
		return false, false
	}
	r, ok := e.Right.Eval(in)
	if !ok {
		return false, false
	}
	return l || r, true
}
