package main

import (
	"bytes"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/config"
	"concierge/internal/docstore"
	"concierge/internal/model"
)

func TestCompileRequest(t *testing.T) {
	cfg := config.Default()
	cfg.Driver = docstore.DriverSQLite

	out, err := compileRequest([]byte(`{"from":"entities","filters":[{"path":"$.status","operator":"=","value":"active"}],"limit":5}`), cfg)
	require.NoError(t, err)

	var got compiled
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "sqlite", got.Dialect)
	assert.True(t, strings.HasPrefix(got.SQL, `SELECT t.* FROM "entities" AS t WHERE `), got.SQL)
	assert.Contains(t, got.Args, "active")
	assert.Equal(t, 5, got.Request.Limit)
}

func TestCompileRequestErrors(t *testing.T) {
	cfg := config.Default()

	_, err := compileRequest([]byte(`{"from":`), cfg)
	assert.ErrorContains(t, err, "decode request")

	_, err = compileRequest([]byte(`{"from":"entities","filters":[{"path":"$.a","operator":"~","value":1}]}`), cfg)
	assert.Equal(t, model.KindUnsupportedOperator, model.KindOf(err))
}

func TestCompileCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(`{"from":"curations"}`))
	rootCmd.SetArgs([]string{"compile", "--driver", "postgres", "-f", "-"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), `"dialect": "postgres"`)
	assert.Contains(t, out.String(), `FROM \"curations\" AS t`)
}
