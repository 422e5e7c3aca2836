package taskctx

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// FormatValue renders v as an HCL literal expression. Primitive, object and
// tuple values read back through ParseValue unchanged; lists, maps and sets
// come back as their tuple or object equivalents.
func FormatValue(v cty.Value) string {
	return string(hclwrite.TokensForValue(v).Bytes())
}

// ParseValue evaluates an HCL literal expression without any variables.
func ParseValue(src string) (cty.Value, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "<context>", hcl.InitialPos)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("failed to parse context value %q: %w", src, diags)
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("failed to evaluate context value %q: %w", src, diags)
	}
	return v, nil
}
