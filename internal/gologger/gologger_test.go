package gologger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/mickamy/sfreport/internal/gologger"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	t.Setenv("PRETTY", "")
	var buf bytes.Buffer
	logger := gologger.NewLogger(&buf)
	logger.Info().Str("view", "query_load").Msg("view rendered")

	line := buf.String()
	assert.Equal(t, "view rendered", gjson.Get(line, "message").String())
	assert.Equal(t, "query_load", gjson.Get(line, "view").String())
	assert.True(t, gjson.Get(line, "time").Exists())
	assert.True(t, strings.Contains(gjson.Get(line, "caller").String(), ".go:"))
}
