// Package demo ships small deliberately flawed targets used by the CLI and
// by end-to-end tests.
package demo

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"adversary/internal/payload"
	"adversary/internal/sym"
	"adversary/internal/target"
)

// Entry is a registered demonstration target with its analysis context.
type Entry struct {
	Target      target.Target
	Context     *target.Context
	Description string
}

func VulnerableMultiply() target.Target {
	return target.Target{
		Name:   "vulnerable_multiply",
		Params: []string{"x"},
		Fn: func(_ *target.Call, args []payload.Value) (payload.Value, error) {
			x, ok := args[0].AsInt()
			if !ok {
				return payload.Null(), payload.TypeErrorf("unsupported operand type: %s", args[0].TypeName())
			}
			product, err := payload.MulInt(x, 999999999)
			if err != nil {
				return payload.Null(), err
			}
			return payload.Int(product), nil
		},
	}
}

// VulnerableAuth grants access to "admin" or to any user whose password
// equals the user name.
func VulnerableAuth() target.Target {
	return target.Target{
		Name:   "vulnerable_auth",
		Params: []string{"username", "password"},
		Kind:   target.KindGuard,
		Fn: func(_ *target.Call, args []payload.Value) (payload.Value, error) {
			n, ok := args[1].Len()
			if !ok {
				return payload.Null(), payload.TypeErrorf("password of type %s has no length", args[1].TypeName())
			}
			if n > 0 && (args[0].Equal(payload.Text("admin")) || args[0].Equal(args[1])) {
				return payload.Bool(true), nil
			}
			return payload.Bool(false), nil
		},
	}
}

// SafeFunction validates its input and doubles it.
func SafeFunction() target.Target {
	return target.Target{
		Name:   "safe_function",
		Params: []string{"x"},
		Fn: func(call *target.Call, args []payload.Value) (payload.Value, error) {
			x, ok := args[0].AsInt()
			if !ok {
				return payload.Null(), payload.TypeErrorf("must be int")
			}
			if call.Branch(sym.Gt(sym.Param("x"), sym.Int(1000))) || call.Branch(sym.Lt(sym.Param("x"), sym.Int(-1000))) {
				return payload.Null(), payload.ValueErrorf("out of bounds")
			}
			return payload.Int(x * 2), nil
		},
	}
}

// SafeFunctionContext declares the validation errors SafeFunction raises by
// contract.
func SafeFunctionContext() *target.Context {
	return &target.Context{ExpectedErrors: []error{payload.ErrType, payload.ErrValue}}
}

func Threshold() target.Target {
	return target.Target{
		Name:   "threshold",
		Params: []string{"a"},
		Fn: func(call *target.Call, args []payload.Value) (payload.Value, error) {
			if call.Branch(sym.Lt(sym.Param("a"), sym.Int(10))) {
				return args[0], nil
			}
			return payload.Int(-1), nil
		},
	}
}

// Ratio divides 100 by its argument without guarding zero.
func Ratio() target.Target {
	return target.Target{
		Name:   "ratio",
		Params: []string{"d"},
		Fn: func(_ *target.Call, args []payload.Value) (payload.Value, error) {
			d, ok := args[0].AsInt()
			if !ok {
				return payload.Null(), payload.TypeErrorf("divisor must be int")
			}
			return payload.Int(100 / d), nil
		},
	}
}

const blockedHost = "evil.com"

// URLBlocklist reports whether a URL targets the blocked host. Malformed
// URLs are rejected with a value error.
func URLBlocklist() target.Target {
	return target.Target{
		Name:   "url_blocklist",
		Params: []string{"url"},
		Fn: func(_ *target.Call, args []payload.Value) (payload.Value, error) {
			raw, ok := args[0].AsText()
			if !ok {
				return payload.Bool(false), nil
			}
			u, err := url.Parse(raw)
			if err != nil {
				return payload.Null(), payload.ValueErrorf("parse url: %v", err)
			}
			return payload.Bool(strings.EqualFold(u.Hostname(), blockedHost)), nil
		},
	}
}

var registry = map[string]func() Entry{
	"vulnerable_multiply": func() Entry {
		return Entry{Target: VulnerableMultiply(), Description: "multiplies by 999999999 without overflow checks"}
	},
	"vulnerable_auth": func() Entry {
		return Entry{Target: VulnerableAuth(), Description: "grants admin or username==password"}
	},
	"safe_function": func() Entry {
		return Entry{Target: SafeFunction(), Context: SafeFunctionContext(), Description: "validated doubling with sanctioned errors"}
	},
	"threshold": func() Entry {
		return Entry{Target: Threshold(), Description: "returns a below 10, -1 otherwise"}
	},
	"ratio": func() Entry {
		return Entry{Target: Ratio(), Description: "divides 100 by an unchecked divisor"}
	},
	"url_blocklist": func() Entry {
		return Entry{Target: URLBlocklist(), Description: "hostname blocklist over net/url parsing"}
	},
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Lookup(name string) (Entry, error) {
	build, ok := registry[Normalize(name)]
	if !ok {
		return Entry{}, fmt.Errorf("unknown demo target: %s", name)
	}
	return build(), nil
}

// Normalize canonicalizes a target name: lowercase, with dashes and spaces
// folded to underscores.
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	return strings.Trim(normalized, "_")
}

// All returns every demo target in name order.
func All() []Entry {
	names := Names()
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		out = append(out, registry[name]())
	}
	return out
}
