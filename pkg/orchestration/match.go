package orchestration

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

const defaultMatchSteps = 100000

// MatchEvaluator evaluates route match expressions.
//
// A match expression is a Starlark expression. Every instance attribute is
// predeclared as a global, and the whole attribute set is also available as
// a struct under "instance" and under the lower-cased model name:
//
//	'.' in origin
//	domain.name.endswith('.org') and not top
//	instance.protocol == 'https'
//
// An empty expression never matches; "True" matches everything.
type MatchEvaluator struct {
	maxSteps uint64
}

// NewMatchEvaluator creates a new evaluator. maxSteps bounds the work done by
// a single expression; zero selects a default.
func NewMatchEvaluator(maxSteps uint64) *MatchEvaluator {
	if maxSteps == 0 {
		maxSteps = defaultMatchSteps
	}
	return &MatchEvaluator{maxSteps: maxSteps}
}

// Matches evaluates expr against inst and returns its truth value.
func (e *MatchEvaluator) Matches(ctx context.Context, expr string, inst Instance) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, nil
	}

	env, err := matchEnv(inst)
	if err != nil {
		return false, err
	}

	thread := &starlark.Thread{
		Name:  "route-match",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(e.maxSteps)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	val, err := starlark.Eval(thread, "match", expr, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate match %q: %w", expr, err)
	}
	return bool(val.Truth()), nil
}

// CheckMatch reports syntax errors in a match expression without evaluating it.
func CheckMatch(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	if _, err := syntax.ParseExpr("match", expr, 0); err != nil {
		return fmt.Errorf("invalid match %q: %w", expr, err)
	}
	return nil
}

func matchEnv(inst Instance) (starlark.StringDict, error) {
	attrs := inst.Attrs()
	members := make(starlark.StringDict, len(attrs))
	env := starlark.StringDict{}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := toStarlarkValue(attrs[k])
		if err != nil {
			return nil, fmt.Errorf("failed to convert attribute %s: %w", k, err)
		}
		members[k] = v
		env[k] = v
	}

	st := starlarkstruct.FromStringDict(starlarkstruct.Default, members)
	env["instance"] = st
	env[modelName(inst.Kind())] = st
	return env, nil
}

// modelName returns "domain" for "domains.Domain".
func modelName(kind string) string {
	if i := strings.LastIndex(kind, "."); i >= 0 {
		kind = kind[i+1:]
	}
	return strings.ToLower(kind)
}

// toStarlarkValue converts an attribute value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint32:
		return starlark.MakeUint64(uint64(val)), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case []map[string]any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(item)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
