package rows

import (
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mickamy/sfreport/internal/model"
)

// KeyLayout is the textual form of a grouping key.
const KeyLayout = "2006-01-02T15:04:05"

// Link is a table cell rendered as an anchor.
type Link struct {
	Href  string
	Label string
}

// Decode splits a fetched row into its grouping key and positional values.
// A row holding a single JSON array literal (Snowflake ARRAY_CONSTRUCT) is
// expanded first; otherwise the row is read positionally.
func Decode(row []any) (string, []any, error) {
	if len(row) == 1 {
		if raw, ok := arrayLiteral(row[0]); ok {
			if !gjson.Valid(raw) {
				return "", nil, fmt.Errorf("rows: malformed array literal: %.40q", raw)
			}
			parsed := gjson.Parse(raw)
			if !parsed.IsArray() {
				return "", nil, fmt.Errorf("rows: not an array literal: %.40q", raw)
			}
			elems := parsed.Array()
			row = make([]any, len(elems))
			for i, e := range elems {
				row[i] = fromJSON(e)
			}
		}
	}
	if len(row) == 0 {
		return "", nil, fmt.Errorf("rows: empty row")
	}
	return FormatKey(row[0]), row[1:], nil
}

func arrayLiteral(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return "", false
	}
	trimmed := strings.TrimSpace(s)
	return trimmed, strings.HasPrefix(trimmed, "[")
}

func fromJSON(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.Number:
		return r.Float()
	case gjson.String:
		return r.String()
	case gjson.True, gjson.False:
		return r.Bool()
	default:
		return r.Raw
	}
}

// FormatKey renders a grouping key.
func FormatKey(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(KeyLayout)
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return Scalar(v)
	}
}

// Float converts a metric value. NULL reads as zero.
func Float(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("rows: parse %q: %w", t, err)
		}
		return f, nil
	case []byte:
		return Float(string(t))
	default:
		return 0, fmt.Errorf("rows: unsupported numeric type %T", v)
	}
}

// Floats converts every value with Float.
func Floats(values []any) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		f, err := Float(v)
		if err != nil {
			return nil, fmt.Errorf("rows: column %d: %w", i+1, err)
		}
		out[i] = f
	}
	return out, nil
}

// JSArray renders a chart row as a JavaScript array literal.
func JSArray(row model.ChartRow) string {
	var sb strings.Builder
	key, _ := json.Marshal(row.Key)
	sb.WriteByte('[')
	sb.Write(key)
	for _, v := range row.Values {
		sb.WriteString(", ")
		sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}

// Cells renders a typed row as escaped <td> cells.
func Cells(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if l, ok := v.(Link); ok {
			out[i] = `<td><a href="` + html.EscapeString(l.Href) + `">` + html.EscapeString(l.Label) + "</a></td>"
			continue
		}
		out[i] = "<td>" + html.EscapeString(Scalar(v)) + "</td>"
	}
	return out
}

// Scalar is the display form of a cell value.
func Scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(KeyLayout)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case Link:
		return t.Label
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
