package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// evaluateCondition evaluates a small comparison expression against the
// call's variable bag. Supported forms: "<lhs> <op> <rhs>" with ==, !=,
// >=, <=, > or <, or a single truthy term. Placeholders of the form
// ${dot.path} resolve against the variables. Anything unparsable
// evaluates to false: routing decisions fail closed.
func evaluateCondition(condition string, vars map[string]any) bool {
	expr := placeholderRe.ReplaceAllStringFunc(condition, func(m string) string {
		path := placeholderRe.FindStringSubmatch(m)[1]

		return stringify(lookupPath(vars, path))
	})

	// order matters: two-char operators before their one-char prefixes
	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		lhs, rhs, found := strings.Cut(expr, op)
		if !found {
			continue
		}

		return compare(strings.TrimSpace(lhs), op, strings.TrimSpace(rhs))
	}

	term := strings.TrimSpace(expr)

	switch term {
	case "", "false", "0", "null", "<nil>":
		return false
	default:
		return true
	}
}

func compare(lhs, op, rhs string) bool {
	lhs = unquote(lhs)
	rhs = unquote(rhs)

	ln, lerr := strconv.ParseFloat(lhs, 64)
	rn, rerr := strconv.ParseFloat(rhs, 64)
	numeric := lerr == nil && rerr == nil

	switch op {
	case "==":
		if numeric {
			return ln == rn
		}

		return lhs == rhs
	case "!=":
		if numeric {
			return ln != rn
		}

		return lhs != rhs
	case ">":
		return numeric && ln > rn
	case "<":
		return numeric && ln < rn
	case ">=":
		return numeric && ln >= rn
	case "<=":
		return numeric && ln <= rn
	default:
		return false
	}
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}

	return s
}

// lookupPath walks a dot path through nested maps. A missing segment
// returns nil.
func lookupPath(vars map[string]any, path string) any {
	var current any = vars

	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}

		current, ok = m[segment]
		if !ok {
			return nil
		}
	}

	return current
}

func stringify(v any) string {
	if v == nil {
		return ""
	}

	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
