package attributes

import (
	"fmt"
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mrzor/trace-clocksync/internal/config"
	"github.com/mrzor/trace-clocksync/internal/eventprocessor"
)

// Evaluator handles compilation and evaluation of custom attribute expressions.
type Evaluator struct {
	customAttrs   []config.CustomAttribute
	compiledExprs []*vm.Program
	log           zerolog.Logger
}

// NewEvaluator creates a new attribute evaluator.
// It pre-compiles all custom attribute expressions.
func NewEvaluator(customAttrs []config.CustomAttribute, log zerolog.Logger) (*Evaluator, error) {
	// Compile against typeEnv so field typos fail at startup, not per event
	compiledExprs := make([]*vm.Program, len(customAttrs))
	for i, attr := range customAttrs {
		program, err := expr.Compile(attr.Expression, expr.Env(typeEnv))
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression for attribute %q: %w", attr.Name, err)
		}
		compiledExprs[i] = program
	}

	return &Evaluator{
		customAttrs:   customAttrs,
		compiledExprs: compiledExprs,
		log:           log,
	}, nil
}

// EvaluateCustomAttributes evaluates custom attribute expressions for an event.
// Attributes whose expression fails at runtime are skipped.
func (e *Evaluator) EvaluateCustomAttributes(ev *eventprocessor.ConvertedEvent) []attribute.KeyValue {
	if len(e.customAttrs) == 0 || ev == nil {
		return nil
	}

	// Same shape as typeEnv, filled from the converted event
	env := eventEnv(ev)

	var attrs []attribute.KeyValue
	for i, customAttr := range e.customAttrs {
		output, err := expr.Run(e.compiledExprs[i], env)
		if err != nil {
			// Log and continue with the remaining attributes
			e.log.Warn().Err(err).Str("attribute", customAttr.Name).Msg("failed to evaluate expression")
			continue
		}

		// Maps expand into one attribute per key, with dot notation
		outputValue := reflect.ValueOf(output)
		if outputValue.Kind() != reflect.Map {
			// Scalars, slices and structs become a single string attribute
			attrs = append(attrs, attribute.String(customAttr.Name, fmt.Sprint(output)))
			continue
		}
		for _, key := range outputValue.MapKeys() {
			// Keys are sanitized; nested values use their default %v form
			attrName := customAttr.Name + "." + sanitizeAttributeName(fmt.Sprint(key.Interface()))
			attrs = append(attrs, attribute.String(attrName, fmt.Sprint(outputValue.MapIndex(key).Interface())))
		}
	}

	return attrs
}

// sanitizeAttributeName replaces non-alphanumeric characters with underscores.
func sanitizeAttributeName(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}
