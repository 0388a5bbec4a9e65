// Package functions implements the named functions a descriptor or action
// may call: validation, formatting, state mutation, navigation and logic.
package functions

import (
	"fmt"
	"log/slog"
	"time"

	"metaui/internal/catalog"
	"metaui/internal/datamodel"
	"metaui/internal/expr"
	"metaui/internal/protocol"
)

// Host is the surface a bound engine acts on.
type Host interface {
	// DataModel is the current surface's document; nil when no surface is bound.
	DataModel() *datamodel.Store
	// RequestRender asks for a local re-render after a state write.
	RequestRender()
	// Open hands a URL to the renderer. It must not share an opener context.
	Open(url string) error
	// Warn reports a non-fatal problem through the event channel.
	Warn(code, message string)
}

type impl func(b *binding, ctx expr.CallContext, args map[string]any) any

// Engine holds the function table. It is stateless; bind it to a Host with
// With before resolving.
type Engine struct {
	log   *slog.Logger
	now   func() time.Time
	table map[string]impl
}

// New returns an engine with every catalog function registered.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{log: logger, now: time.Now}
	e.table = map[string]impl{
		"required":       fnRequired,
		"email":          fnEmail,
		"regex":          fnRegex,
		"length":         fnLength,
		"numeric":        fnNumeric,
		"formatString":   fnFormatString,
		"formatNumber":   fnFormatNumber,
		"formatCurrency": fnFormatCurrency,
		"formatDate":     fnFormatDate,
		"pluralize":      fnPluralize,
		"and":            fnAnd,
		"or":             fnOr,
		"not":            fnNot,
		"setState":       fnSetState,
		"deleteState":    fnDeleteState,
		"appendState":    fnAppendState,
		"prependState":   fnPrependState,
		"mergeState":     fnMergeState,
		"openUrl":        fnOpenURL,
		"runSequence":    fnRunSequence,
	}
	return e
}

// With binds the engine to a host.
func (e *Engine) With(host Host) expr.Invoker {
	return &binding{engine: e, host: host}
}

// Has reports whether name is registered.
func (e *Engine) Has(name string) bool {
	_, ok := e.table[name]
	return ok
}

type binding struct {
	engine *Engine
	host   Host
}

func (b *binding) RawArgs(name string) bool {
	fn, ok := catalog.LookupFunction(name)
	return ok && fn.Kind == catalog.KindSequence
}

func (b *binding) Invoke(ctx expr.CallContext, name string, args map[string]any) any {
	fn, ok := b.engine.table[name]
	if !ok {
		b.warn(protocol.CodeFunctionNotFound, fmt.Sprintf("function %q is not supported", name))
		return nil
	}
	return fn(b, ctx, args)
}

func (b *binding) warn(code, msg string) {
	b.engine.log.Warn("function warning", "code", code, "message", msg)
	if b.host != nil {
		b.host.Warn(code, msg)
	}
}

func (b *binding) store() *datamodel.Store {
	if b.host == nil {
		return nil
	}
	return b.host.DataModel()
}
