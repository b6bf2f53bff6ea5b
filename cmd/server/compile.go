package main

import (
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"concierge/internal/config"
	"concierge/internal/docstore"
	"concierge/internal/dsl"
)

var compileFile string

// compileCmd prints the SQL a query request compiles to. It never opens a
// connection.
var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile a query DSL request and print the SQL and parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(flags)
		if err != nil {
			return err
		}
		var raw []byte
		if compileFile == "" || compileFile == "-" {
			raw, err = io.ReadAll(cmd.InOrStdin())
		} else {
			raw, err = os.ReadFile(compileFile)
		}
		if err != nil {
			return err
		}
		out, err := compileRequest(raw, cfg)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	},
}

func init() {
	compileCmd.Flags().StringVarP(&compileFile, "file", "f", "-", "Query request JSON file (- for stdin)")
	rootCmd.AddCommand(compileCmd)
}

type compiled struct {
	Dialect string      `json:"dialect"`
	SQL     string      `json:"sql"`
	Args    []any       `json:"args"`
	Request dsl.Request `json:"request"`
}

func compileRequest(raw []byte, cfg config.Config) ([]byte, error) {
	var req dsl.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	d, _, err := docstore.DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	st, err := dsl.NewCompiler(d, cfg.DefaultLimit, cfg.MaxLimit).Compile(req)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(compiled{Dialect: d.Name(), SQL: st.SQL, Args: st.Args, Request: st.Request}, "", "  ")
}
