package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomcloud/loom/internal/core"
)

type conditionNodeConfig struct {
	Condition string `mapstructure:"condition"`
}

// handleCondition evaluates the node's predicate and returns
// {"result": bool}. A false result makes the executor skip
// downstream-only successors.
func (d *Dispatcher) handleCondition(_ context.Context, node core.Node, in Input) (map[string]any, error) {
	var cfg conditionNodeConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return nil, err
	}
	result, err := evalPredicate(cfg.Condition, in)
	if err != nil {
		return nil, core.NewNodeConfigError(node.ID, err)
	}
	return map[string]any{"result": result}, nil
}

// evalPredicate accepts only the restricted grammar: the literals
// "true" and "false", or "input.<key>" where <key> names a
// predecessor whose output is checked for truthiness. Everything else
// is rejected. Conditions are never evaluated as code.
func evalPredicate(expr string, in Input) (bool, error) {
	expr = strings.TrimSpace(expr)
	switch expr {
	case "":
		return false, fmt.Errorf("%w: empty expression", core.ErrInvalidCondition)
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if key, ok := strings.CutPrefix(expr, "input."); ok && key != "" {
		out, ok := in.Outputs[key]
		if !ok {
			return false, nil
		}
		return truthy(out), nil
	}
	return false, fmt.Errorf("%w: %q", core.ErrInvalidCondition, expr)
}

// truthy follows plain value truthiness: nil, false, zero numbers,
// empty strings and empty collections are false. A map carrying a
// "result" key is judged by that value, so conditions can chain off
// agent and condition outputs.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case map[string]any:
		if r, ok := t["result"]; ok {
			return truthy(r)
		}
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}
