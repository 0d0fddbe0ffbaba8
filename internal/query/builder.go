package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects placeholder style and a few dialect-specific expressions.
type Dialect int

const (
	Snowflake Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case Snowflake:
		return "snowflake"
	case Postgres:
		return "postgres"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// ParseDialect maps a driver name onto a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "snowflake":
		return Snowflake, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return 0, fmt.Errorf("query: unknown dialect %q", name)
	}
}

// Statement is a parameterized SQL statement ready for an executor.
type Statement struct {
	SQL  string
	Args []any
}

// Builder accumulates SQL text and bind arguments in textual order.
type Builder struct {
	dialect Dialect
	sb      strings.Builder
	args    []any
}

// NewBuilder returns an empty builder for the dialect.
func NewBuilder(d Dialect) *Builder {
	return &Builder{dialect: d}
}

// Write appends raw SQL text. Callers must never pass untrusted values here.
func (b *Builder) Write(parts ...string) *Builder {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
	return b
}

// Bind appends a placeholder for v.
func (b *Builder) Bind(v any) *Builder {
	b.args = append(b.args, v)
	if b.dialect == Postgres {
		b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
		return b
	}
	b.sb.WriteString("?")
	return b
}

// BindList appends "(p1, p2, ...)" for the values.
func (b *Builder) BindList(values []string) *Builder {
	b.sb.WriteString("(")
	for i, v := range values {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Bind(v)
	}
	b.sb.WriteString(")")
	return b
}

// Fragment appends a SQL fragment whose '?' markers are bound to args in order.
func (b *Builder) Fragment(expr string, args ...any) *Builder {
	n := 0
	for i := 0; i < len(expr); i++ {
		if expr[i] == '?' && n < len(args) {
			b.Bind(args[n])
			n++
			continue
		}
		b.sb.WriteByte(expr[i])
	}
	return b
}

// Statement returns the built statement.
func (b *Builder) Statement() Statement {
	return Statement{SQL: b.sb.String(), Args: append([]any(nil), b.args...)}
}

// Dialect returns the builder's dialect.
func (b *Builder) Dialect() Dialect {
	return b.dialect
}
