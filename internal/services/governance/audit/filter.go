package audit

import (
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/brightward/brightward/internal/services/governance/storage"
)

// filterDeclarations returns the field declarations for audit filtering.
func filterDeclarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("user_id", filtering.TypeString),
		filtering.DeclareIdent("type", filtering.TypeString),
		filtering.DeclareIdent("severity", filtering.TypeString),
		filtering.DeclareIdent("ts", filtering.TypeTimestamp),
	)
}

// filterFieldMapping maps filter field names to SQL column names.
var filterFieldMapping = map[string]string{
	"user_id":  "user_id",
	"type":     "event_type",
	"severity": "severity",
	"ts":       "timestamp",
}

// ParseFilter parses an AIP-160 filter expression into a SQL condition.
// Returns an empty condition for an empty filter string.
func ParseFilter(filterStr string) (storage.SQLCondition, error) {
	if strings.TrimSpace(filterStr) == "" {
		return storage.SQLCondition{}, nil
	}

	decls, err := filterDeclarations()
	if err != nil {
		return storage.SQLCondition{}, fmt.Errorf("create declarations: %w", err)
	}

	filter, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return storage.SQLCondition{}, fmt.Errorf("parse filter: %w", err)
	}

	return translateExpr(filter.CheckedExpr.Expr)
}

func translateExpr(e *expr.Expr) (storage.SQLCondition, error) {
	if e == nil {
		return storage.SQLCondition{}, nil
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return translateCall(kind.CallExpr)
	default:
		return storage.SQLCondition{}, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

func translateCall(call *expr.Expr_Call) (storage.SQLCondition, error) {
	switch call.Function {
	case "_&&_", "AND":
		return translateLogical(call.Args, "AND")
	case "_||_", "OR":
		return translateLogical(call.Args, "OR")
	case "_==_", "=":
		return translateComparison(call.Args, "=")
	case "_!=_", "!=":
		return translateComparison(call.Args, "!=")
	case "_<_", "<":
		return translateComparison(call.Args, "<")
	case "_<=_", "<=":
		return translateComparison(call.Args, "<=")
	case "_>_", ">":
		return translateComparison(call.Args, ">")
	case "_>=_", ">=":
		return translateComparison(call.Args, ">=")
	default:
		return storage.SQLCondition{}, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func translateLogical(args []*expr.Expr, op string) (storage.SQLCondition, error) {
	if len(args) != 2 {
		return storage.SQLCondition{}, fmt.Errorf("%s requires 2 arguments", op)
	}

	left, err := translateExpr(args[0])
	if err != nil {
		return storage.SQLCondition{}, err
	}
	right, err := translateExpr(args[1])
	if err != nil {
		return storage.SQLCondition{}, err
	}

	return storage.SQLCondition{
		Clause: fmt.Sprintf("(%s %s %s)", left.Clause, op, right.Clause),
		Params: append(left.Params, right.Params...),
	}, nil
}

func translateComparison(args []*expr.Expr, op string) (storage.SQLCondition, error) {
	if len(args) != 2 {
		return storage.SQLCondition{}, fmt.Errorf("comparison requires 2 arguments")
	}

	field, err := extractFieldName(args[0])
	if err != nil {
		return storage.SQLCondition{}, err
	}
	column, ok := filterFieldMapping[field]
	if !ok {
		return storage.SQLCondition{}, fmt.Errorf("unknown field: %s", field)
	}

	value, err := extractValue(args[1])
	if err != nil {
		return storage.SQLCondition{}, err
	}

	return storage.SQLCondition{
		Clause: fmt.Sprintf("%s %s ?", column, op),
		Params: []any{value},
	}, nil
}

func extractFieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.Name, nil
	default:
		return "", fmt.Errorf("expected identifier, got %T", kind)
	}
}

func extractValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		return extractConstValue(kind.ConstExpr)
	case *expr.Expr_CallExpr:
		if kind.CallExpr.Function == "timestamp" && len(kind.CallExpr.Args) == 1 {
			return extractTimestampValue(kind.CallExpr.Args[0])
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.Function)
	default:
		return nil, fmt.Errorf("expected constant or timestamp, got %T", kind)
	}
}

func extractConstValue(c *expr.Constant) (any, error) {
	if c == nil {
		return nil, fmt.Errorf("nil constant")
	}

	switch kind := c.ConstantKind.(type) {
	case *expr.Constant_StringValue:
		return kind.StringValue, nil
	case *expr.Constant_Int64Value:
		return kind.Int64Value, nil
	case *expr.Constant_Uint64Value:
		return kind.Uint64Value, nil
	case *expr.Constant_DoubleValue:
		return kind.DoubleValue, nil
	case *expr.Constant_BoolValue:
		return kind.BoolValue, nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}

// extractTimestampValue converts timestamp("...") to the millisecond
// representation used by the timestamp column.
func extractTimestampValue(e *expr.Expr) (int64, error) {
	if e == nil {
		return 0, fmt.Errorf("nil timestamp argument")
	}

	switch kind := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		strVal, ok := kind.ConstExpr.ConstantKind.(*expr.Constant_StringValue)
		if !ok {
			return 0, fmt.Errorf("timestamp argument must be a string")
		}
		t, err := time.Parse(time.RFC3339, strVal.StringValue)
		if err != nil {
			t, err = time.Parse(time.RFC3339Nano, strVal.StringValue)
			if err != nil {
				return 0, fmt.Errorf("invalid timestamp format: %s", strVal.StringValue)
			}
		}
		return t.UTC().UnixMilli(), nil
	default:
		return 0, fmt.Errorf("timestamp argument must be a constant string")
	}
}
