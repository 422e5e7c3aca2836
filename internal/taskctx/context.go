// Package taskctx provides Context, the immutable set of named values a task
// node is evaluated under.
package taskctx

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

const (
	// FrameKey holds the frame currently being evaluated.
	FrameKey = "frame"
	// UIPrefix marks entries that only matter to interactive front ends.
	UIPrefix = "ui:"
)

// Context maps variable names to values. A Context is never mutated after
// construction; every With* method returns a modified copy. The zero value is
// an empty Context.
type Context struct {
	values map[string]cty.Value
}

// New returns a Context holding a copy of values.
func New(values map[string]cty.Value) Context {
	return Context{values: maps.Clone(values)}
}

// Len returns the number of entries.
func (c Context) Len() int {
	return len(c.values)
}

// Get returns the named value and whether it exists.
func (c Context) Get(name string) (cty.Value, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Int returns the named value as an int, or def when it is absent or not a
// whole number.
func (c Context) Int(name string, def int) int {
	v, ok := c.values[name]
	if !ok || v.IsNull() || !v.IsKnown() || v.Type() != cty.Number {
		return def
	}
	var i int
	if err := gocty.FromCtyValue(v, &i); err != nil {
		return def
	}
	return i
}

// String returns the named value as a string, or def when it is absent or
// not a string.
func (c Context) String(name, def string) string {
	v, ok := c.values[name]
	if !ok || v.IsNull() || !v.IsKnown() || v.Type() != cty.String {
		return def
	}
	return v.AsString()
}

// Frame returns the current frame, if the context carries one.
func (c Context) Frame() (int, bool) {
	if _, ok := c.values[FrameKey]; !ok {
		return 0, false
	}
	const missing = -1 << 31
	f := c.Int(FrameKey, missing)
	return f, f != missing
}

// With returns a copy of c with name set to v.
func (c Context) With(name string, v cty.Value) Context {
	out := make(map[string]cty.Value, len(c.values)+1)
	maps.Copy(out, c.values)
	out[name] = v
	return Context{values: out}
}

// WithFrame returns a copy of c evaluated at frame f.
func (c Context) WithFrame(f int) Context {
	return c.With(FrameKey, cty.NumberIntVal(int64(f)))
}

// Merge returns a copy of c overlaid with every entry of other.
func (c Context) Merge(other Context) Context {
	out := make(map[string]cty.Value, len(c.values)+len(other.values))
	maps.Copy(out, c.values)
	maps.Copy(out, other.values)
	return Context{values: out}
}

// Without returns a copy of c with the named entries removed.
func (c Context) Without(names ...string) Context {
	out := maps.Clone(c.values)
	for _, n := range names {
		delete(out, n)
	}
	return Context{values: out}
}

// Names returns the entry names in ascending order.
func (c Context) Names() []string {
	return slices.Sorted(maps.Keys(c.values))
}

// Equal reports whether both contexts hold the same names with structurally
// identical values.
func (c Context) Equal(other Context) bool {
	if len(c.values) != len(other.values) {
		return false
	}
	for name, v := range c.values {
		ov, ok := other.values[name]
		if !ok || !v.RawEquals(ov) {
			return false
		}
	}
	return true
}

// Key returns a canonical encoding of the context. Two contexts have the same
// key exactly when they are Equal, which makes keys usable in memo tables.
func (c Context) Key() string {
	var b strings.Builder
	for _, name := range c.Names() {
		b.WriteString(strconv.Quote(name))
		b.WriteByte('=')
		b.WriteString(valueKey(c.values[name]))
		b.WriteByte(';')
	}
	return b.String()
}

func valueKey(v cty.Value) string {
	ty, err := ctyjson.MarshalType(v.Type())
	if err != nil {
		return "go:" + v.GoString()
	}
	val, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		// Unknown or marked values have no JSON form.
		return "go:" + v.GoString()
	}
	return string(ty) + ":" + string(val)
}

// Diff returns the names whose values in c are missing from base or differ
// from it. The frame entry and UI-only entries are never reported.
func (c Context) Diff(base Context) []string {
	var out []string
	for _, name := range c.Names() {
		if name == FrameKey || strings.HasPrefix(name, UIPrefix) {
			continue
		}
		if bv, ok := base.values[name]; ok && bv.RawEquals(c.values[name]) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// EvalContext exposes the context to HCL expressions. The current frame is
// available as `frame` and every entry under `context`, so a name containing
// a colon is reachable as context["frameRange:start"].
func (c Context) EvalContext() *hcl.EvalContext {
	vars := map[string]cty.Value{
		"context": cty.EmptyObjectVal,
	}
	if len(c.values) > 0 {
		vars["context"] = cty.ObjectVal(maps.Clone(c.values))
	}
	if f, ok := c.values[FrameKey]; ok {
		vars[FrameKey] = f
	} else {
		vars[FrameKey] = cty.NullVal(cty.Number)
	}
	return &hcl.EvalContext{Variables: vars}
}

// GoString renders the context for debug logging.
func (c Context) GoString() string {
	parts := make([]string, 0, len(c.values))
	for _, name := range c.Names() {
		parts = append(parts, fmt.Sprintf("%s=%s", name, c.values[name].GoString()))
	}
	return "taskctx.Context{" + strings.Join(parts, ", ") + "}"
}
