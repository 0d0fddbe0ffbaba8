package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mickamy/sfreport/internal/executor"
	"github.com/mickamy/sfreport/internal/model"
)

// Column names of GET_QUERY_OPERATOR_STATS, lower-cased.
const (
	ColQueryID       = "query_id"
	ColStepID        = "step_id"
	ColOperatorID    = "operator_id"
	ColParents       = "parent_operators"
	ColOperatorType  = "operator_type"
	ColStatistics    = "operator_statistics"
	ColTimeBreakdown = "execution_time_breakdown"
	ColAttributes    = "operator_attributes"
)

var required = []string{ColQueryID, ColStepID, ColOperatorID, ColOperatorType}

// ParseRows maps operator-stats rows onto records. VARIANT columns may
// arrive as JSON text (Snowflake) or as decoded values (Postgres jsonb).
func ParseRows(res *executor.Result) ([]model.PlanOperatorRecord, error) {
	if res.Len() == 0 {
		return nil, nil
	}
	index := make(map[string]int, len(res.Columns))
	for i, c := range res.Columns {
		index[strings.ToLower(c)] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("parse operator stats: missing column %q", col)
		}
	}

	get := func(row []any, col string) any {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return nil
		}
		return row[i]
	}

	records := make([]model.PlanOperatorRecord, 0, res.Len())
	for n, row := range res.Rows {
		rec := model.PlanOperatorRecord{
			QueryID:      asString(get(row, ColQueryID)),
			StepID:       asInt(get(row, ColStepID)),
			OperatorID:   asInt(get(row, ColOperatorID)),
			OperatorType: asString(get(row, ColOperatorType)),
		}
		if rec.QueryID == "" {
			return nil, fmt.Errorf("parse operator stats: row %d: empty query_id", n)
		}

		parents, err := rawJSON(get(row, ColParents))
		if err != nil {
			return nil, fmt.Errorf("parse operator stats: row %d parents: %w", n, err)
		}
		rec.ParentOperatorIDs = parseParents(parents)

		stats, err := rawJSON(get(row, ColStatistics))
		if err != nil {
			return nil, fmt.Errorf("parse operator stats: row %d statistics: %w", n, err)
		}
		rec.Statistics = flatten(stats)

		breakdown, err := rawJSON(get(row, ColTimeBreakdown))
		if err != nil {
			return nil, fmt.Errorf("parse operator stats: row %d time breakdown: %w", n, err)
		}
		rec.TimeBreakdown = numbers(flatten(breakdown))

		attrs, err := rawJSON(get(row, ColAttributes))
		if err != nil {
			return nil, fmt.Errorf("parse operator stats: row %d attributes: %w", n, err)
		}
		rec.Attributes = flatten(attrs)

		records = append(records, rec)
	}
	return records, nil
}

// ParseJSON reads a fixture: a JSON array of operator-stats objects keyed
// by the lower-cased column names.
func ParseJSON(r io.Reader) ([]model.PlanOperatorRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read operator stats json: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("operator stats json: invalid document")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, fmt.Errorf("operator stats json: expected array, got %s", doc.Type)
	}

	res := &executor.Result{Columns: []string{
		ColQueryID, ColStepID, ColOperatorID, ColParents, ColOperatorType,
		ColStatistics, ColTimeBreakdown, ColAttributes,
	}}
	for _, item := range doc.Array() {
		row := make([]any, len(res.Columns))
		for i, col := range res.Columns {
			v := item.Get(col)
			switch {
			case !v.Exists() || v.Type == gjson.Null:
				row[i] = nil
			case v.IsObject() || v.IsArray():
				row[i] = v.Raw
			default:
				row[i] = v.Value()
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return ParseRows(res)
}

// GroupByQuery splits a flat record set per execution, keeping arrival order
// within each group. Query ids are returned sorted.
func GroupByQuery(records []model.PlanOperatorRecord) (map[string][]model.PlanOperatorRecord, []string) {
	groups := map[string][]model.PlanOperatorRecord{}
	for _, r := range records {
		groups[r.QueryID] = append(groups[r.QueryID], r)
	}
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return groups, ids
}

func rawJSON(val any) (string, error) {
	switch v := val.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case []byte:
		return strings.TrimSpace(string(v)), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func parseParents(raw string) []int {
	if raw == "" || raw == "null" {
		return nil
	}
	res := gjson.Parse(raw)
	if !res.IsArray() {
		// a single scalar parent
		if res.Type == gjson.Number {
			return []int{int(res.Int())}
		}
		return nil
	}
	var out []int
	for _, v := range res.Array() {
		if v.Type == gjson.Null {
			continue
		}
		out = append(out, int(v.Int()))
	}
	return out
}

func flatten(raw string) map[string]any {
	if raw == "" || raw == "null" {
		return nil
	}
	res := gjson.Parse(raw)
	if !res.IsObject() {
		return nil
	}
	out := map[string]any{}
	var walk func(prefix string, r gjson.Result)
	walk = func(prefix string, r gjson.Result) {
		r.ForEach(func(k, v gjson.Result) bool {
			key := k.String()
			if prefix != "" {
				key = prefix + "." + key
			}
			switch {
			case v.IsObject():
				walk(key, v)
			case v.Type == gjson.Number:
				out[key] = v.Float()
			case v.Type == gjson.Null:
			default:
				out[key] = v.Value()
			}
			return true
		})
	}
	walk("", res)
	if len(out) == 0 {
		return nil
	}
	return out
}

func numbers(in map[string]any) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}

func asString(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func asInt(val any) int {
	switch v := val.(type) {
	case nil:
		return 0
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case float64:
		return int(math.Round(v))
	case json.Number:
		i, err := v.Int64()
		if err == nil {
			return int(i)
		}
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return int(math.Round(f))
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0
		}
		if strings.ContainsRune(v, '.') {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0
			}
			return int(math.Round(f))
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
