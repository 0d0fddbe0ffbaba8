package report

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mickamy/sfreport/internal/catalog"
	"github.com/mickamy/sfreport/internal/pivot"
	"github.com/mickamy/sfreport/internal/plan"
	"github.com/mickamy/sfreport/internal/query"
	"github.com/mickamy/sfreport/internal/render/html"
	"github.com/mickamy/sfreport/internal/rows"
)

// View renders one report page. A nil body with a nil error means there was
// nothing to show; no page is written.
type View struct {
	Name   string
	Title  string
	Render func(ctx context.Context, env *Env) ([]byte, error)
}

// Builtin returns the built-in views in run order.
func Builtin() []View {
	return []View{
		pivotView("warehouse_credits", "Credits used by warehouse", html.ChartArea, true, func(t catalog.Tables) pivot.Metric {
			return pivot.Metric{
				Source:        t.WarehouseMetering,
				TimeColumn:    "start_time",
				Dimension:     "warehouse_name",
				Aggregate:     "SUM",
				Value:         "credits_used",
				RankAggregate: "SUM",
				RankValue:     "credits_used",
			}
		}),
		pivotView("service_credits", "Credits used by service", html.ChartArea, true, func(t catalog.Tables) pivot.Metric {
			return pivot.Metric{
				Source:        t.MeteringHistory,
				TimeColumn:    "start_time",
				Dimension:     "service_type",
				Aggregate:     "SUM",
				Value:         "credits_used",
				RankAggregate: "SUM",
				RankValue:     "credits_used",
			}
		}),
		pivotView("queries_by_user", "Queries by user", html.ChartBar, true, func(t catalog.Tables) pivot.Metric {
			return pivot.Metric{
				Source:        t.QueryHistory,
				TimeColumn:    "start_time",
				Dimension:     "user_name",
				Aggregate:     "COUNT",
				Value:         "query_id",
				RankAggregate: "COUNT",
				RankValue:     "*",
			}
		}),
		pivotView("query_load", "Query seconds by warehouse", html.ChartLine, false, func(t catalog.Tables) pivot.Metric {
			return pivot.Metric{
				Source:        t.QueryHistory,
				TimeColumn:    "start_time",
				Dimension:     "warehouse_name",
				Aggregate:     "SUM",
				Value:         "total_elapsed_time / 1000",
				RankAggregate: "SUM",
				RankValue:     "total_elapsed_time",
				Filters:       []query.Filter{{Expr: "warehouse_name IS NOT NULL"}},
				Bucket:        "hour",
			}
		}),
		{
			Name:   "execution_history",
			Title:  "Recent executions of the heaviest queries",
			Render: renderExecutionHistory,
		},
	}
}

// Names lists view names in order.
func Names(views []View) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Name
	}
	return out
}

// Select keeps the named views in registry order. No names keeps all of them.
func Select(views []View, names []string) ([]View, error) {
	if len(names) == 0 {
		return views, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.TrimSpace(n)] = true
	}
	var out []View
	for _, v := range views {
		if want[v.Name] {
			out = append(out, v)
			delete(want, v.Name)
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for n := range want {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown views %s (known: %s)", strings.Join(unknown, ", "), strings.Join(Names(views), ", "))
	}
	return out, nil
}

func pivotView(name, title string, kind html.ChartKind, stacked bool, metric func(catalog.Tables) pivot.Metric) View {
	return View{
		Name:  name,
		Title: title,
		Render: func(ctx context.Context, env *Env) ([]byte, error) {
			m := metric(env.Catalog.Tables())
			m.Name = name
			m.Limit = env.Config.Pivot.TopN
			table, err := env.Pivots.Assemble(ctx, m, env.Window)
			if err != nil {
				return nil, err
			}
			if table == nil {
				return nil, nil
			}
			var buf bytes.Buffer
			opts := html.ChartOptions{
				Options: html.Options{Title: pageTitle(env, title), IncludeStyles: env.Config.Render.IncludeStyles},
				Kind:    kind,
				Stacked: stacked,
			}
			if err := html.RenderChart(&buf, table, opts); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	}
}

var historyHeader = []string{"QUERY_ID", "PARAMETERIZED_HASH", "START_TIME", "ELAPSED_MS", "WAREHOUSE", "USER", "PLAN"}

func renderExecutionHistory(ctx context.Context, env *Env) ([]byte, error) {
	loads, err := env.Catalog.TopParameterizedHashes(ctx, env.Window, env.Config.Run.TopQueries)
	if err != nil {
		return nil, err
	}
	if len(loads) == 0 {
		return nil, nil
	}

	hashes := make([]string, 0, len(loads))
	for _, l := range loads {
		if _, err := env.Plans.RegisterAndRender(ctx, l.ParameterizedHash); err != nil {
			return nil, err
		}
		hashes = append(hashes, l.ParameterizedHash)
	}

	execs, err := env.Catalog.RecentExecutions(ctx, env.Window, hashes, env.Config.Plans.MaxExecutions)
	if err != nil {
		return nil, err
	}
	data := make([][]any, 0, len(execs))
	for _, e := range execs {
		var link any = plan.ExpiredLabel
		if h, ok := env.Plans.Lookup(e.QueryID); ok {
			link = rows.Link{Href: env.Plans.Link(e.QueryID), Label: string(h)}
		}
		data = append(data, []any{e.QueryID, e.ParameterizedHash, e.StartTime, e.ElapsedMs, e.WarehouseName, e.UserName, link})
	}

	var buf bytes.Buffer
	opts := html.Options{Title: pageTitle(env, "Recent executions of the heaviest queries"), IncludeStyles: env.Config.Render.IncludeStyles}
	if err := html.RenderTable(&buf, historyHeader, data, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pageTitle(env *Env, title string) string {
	if env.Config.Render.Title == "" {
		return title
	}
	return env.Config.Render.Title + ": " + title
}
