package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beehive-sync/beehive/internal/codec"
)

// CompiledCheck is a reusable validator compiled once from an attribute's
// declared `check` expression (spec §4.2 "Attribute check expressions ...
// compile once into a reusable validator"). The core does not need a general
// scripting language here — only simple comparisons against a literal — so
// the expression grammar is deliberately small:
//
//	"> 0", ">= 1", "< 100", "<= 9999", "!= 0", "== 1", "nonempty"
//
// "nonempty" applies to Text/Blob values and rejects a zero-length payload.
type CompiledCheck struct {
	op      string
	operand int64
}

// CompileCheck parses a check expression into a CompiledCheck.
func CompileCheck(expr string) (*CompiledCheck, error) {
	expr = strings.TrimSpace(expr)
	if expr == "nonempty" {
		return &CompiledCheck{op: "nonempty"}, nil
	}

	for _, op := range []string{">=", "<=", "!=", "==", ">", "<"} {
		if strings.HasPrefix(expr, op) {
			rest := strings.TrimSpace(strings.TrimPrefix(expr, op))
			n, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("schema: invalid check expression %q: %w", expr, err)
			}
			return &CompiledCheck{op: op, operand: n}, nil
		}
	}

	return nil, fmt.Errorf("schema: unrecognized check expression %q", expr)
}

// Accept reports whether v satisfies the compiled check.
func (c *CompiledCheck) Accept(v codec.Value) bool {
	if c == nil {
		return true
	}
	if c.op == "nonempty" {
		return len(v.S) > 0
	}

	var n int64
	switch v.Type {
	case codec.TypeInteger:
		n = v.I
	case codec.TypeReal:
		n = int64(v.R)
	default:
		return true // check only constrains numeric comparisons
	}

	switch c.op {
	case ">":
		return n > c.operand
	case ">=":
		return n >= c.operand
	case "<":
		return n < c.operand
	case "<=":
		return n <= c.operand
	case "==":
		return n == c.operand
	case "!=":
		return n != c.operand
	default:
		return true
	}
}
