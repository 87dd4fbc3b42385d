package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// chainFilterColumns lists the header fields a chain listing can filter on.
var chainFilterColumns = map[string]string{
	"title":   "title",
	"brandId": "brand_id",
}

var filterOperators = map[string]string{
	"eq":   "=",
	"ne":   "<>",
	"gt":   ">",
	"gte":  ">=",
	"lt":   "<",
	"lte":  "<=",
	"like": "LIKE",
}

// buildFilters turns a filter expression such as
//
//	{"title": [{"iLike": "%winter%"}], "brandId": 3}
//
// into a WHERE clause (without the keyword) and its arguments. A bare value
// is shorthand for eq.
func (q *Queries) buildFilters(raw string, columns map[string]string) (string, []any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)

	var (
		clauses []string
		args    []any
	)
	for _, name := range names {
		column, ok := columns[name]
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, name)
		}

		conditions, err := parseConditions(fields[name])
		if err != nil {
			return "", nil, fmt.Errorf("%w: field %q: %v", ErrInvalidFilter, name, err)
		}

		for _, c := range conditions {
			op, err := q.filterOperator(c.op)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, fmt.Sprintf("%s %s ?", column, op))
			args = append(args, c.value)
		}
	}

	return strings.Join(clauses, " AND "), args, nil
}

type condition struct {
	op    string
	value any
}

func parseConditions(raw json.RawMessage) ([]condition, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		var out []condition
		for _, item := range items {
			ops := make([]string, 0, len(item))
			for op := range item {
				ops = append(ops, op)
			}
			slices.Sort(ops)
			for _, op := range ops {
				v, err := scalar(item[op])
				if err != nil {
					return nil, err
				}
				out = append(out, condition{op: op, value: v})
			}
		}
		return out, nil
	}

	v, err := scalar(raw)
	if err != nil {
		return nil, err
	}
	return []condition{{op: "eq", value: v}}, nil
}

func scalar(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		return t.Float64()
	case bool:
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported filter value %s", string(raw))
	}
}

func (q *Queries) filterOperator(op string) (string, error) {
	if op == "iLike" {
		if q.driver == DriverPostgres {
			return "ILIKE", nil
		}
		// LIKE is case-insensitive for ASCII in sqlite.
		return "LIKE", nil
	}
	sqlOp, ok := filterOperators[op]
	if !ok {
		return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, op)
	}
	return sqlOp, nil
}
