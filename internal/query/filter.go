// Package query narrows a service config with expr-lang boolean expressions,
// e.g. `is_enabled && type == "string"` or `name startsWith "db_"`.
package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/OrlandoBitencourt/whydah/internal/domain"
)

// MaxExpressionLength bounds accepted filter expressions
const MaxExpressionLength = 1024

const defaultMaxPrograms = 256

// Env is the variable set visible to a filter expression, evaluated once per
// setting.
type Env struct {
	Name      string         `expr:"name"`
	Value     any            `expr:"value"`
	Enabled   any            `expr:"enabled"`
	Type      any            `expr:"type"`
	IsEnabled bool           `expr:"is_enabled"`
	Setting   map[string]any `expr:"setting"`
}

// Filter compiles and caches filter programs
type Filter struct {
	mu          sync.Mutex
	programs    map[string]*vm.Program
	maxPrograms int
}

// New creates a filter
func New() *Filter {
	return &Filter{
		programs:    make(map[string]*vm.Program),
		maxPrograms: defaultMaxPrograms,
	}
}

// Compile validates an expression and returns its program. Programs are
// cached by source text.
func (f *Filter) Compile(expression string) (*vm.Program, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, domain.NewValidationError("filter expression is empty")
	}
	if len(expression) > MaxExpressionLength {
		return nil, domain.NewValidationError(fmt.Sprintf("filter expression exceeds %d characters", MaxExpressionLength))
	}

	f.mu.Lock()
	program, ok := f.programs[expression]
	f.mu.Unlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid filter expression: %v", err))
	}

	f.mu.Lock()
	if len(f.programs) >= f.maxPrograms {
		clear(f.programs)
	}
	f.programs[expression] = program
	f.mu.Unlock()

	return program, nil
}

// Apply returns the settings of cfg for which expression holds. cfg is not
// modified; matching settings are shared with it.
func (f *Filter) Apply(expression string, cfg domain.ServiceConfig) (domain.ServiceConfig, error) {
	program, err := f.Compile(expression)
	if err != nil {
		return nil, err
	}

	out := make(domain.ServiceConfig)
	for name, setting := range cfg {
		result, err := expr.Run(program, newEnv(name, setting))
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("filter failed on setting %q: %v", name, err))
		}

		matched, ok := result.(bool)
		if !ok {
			return nil, domain.NewValidationError(fmt.Sprintf("filter returned non-boolean: %T", result))
		}
		if matched {
			out[name] = setting
		}
	}

	return out, nil
}

func newEnv(name string, setting domain.Setting) Env {
	props := make(map[string]any, len(setting))
	for k, v := range setting {
		props[k] = normalize(v)
	}

	enabled := props[domain.PropertyEnabled]
	return Env{
		Name:      name,
		Value:     props[domain.PropertyValue],
		Enabled:   enabled,
		Type:      props[domain.PropertyType],
		IsEnabled: isEnabled(enabled),
		Setting:   props,
	}
}

// normalize turns decoder number literals into float64 so expressions can
// compare them numerically.
func normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func isEnabled(v any) bool {
	switch e := v.(type) {
	case bool:
		return e
	case string:
		return strings.EqualFold(strings.TrimSpace(e), "true")
	default:
		return false
	}
}
