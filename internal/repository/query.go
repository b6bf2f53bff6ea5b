package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"concierge/internal/docstore"
	"concierge/internal/document"
	"concierge/internal/dsl"
	"concierge/internal/model"
)

// QueryResult is the outcome of one DSL query. Items keep the column order
// of the statement.
type QueryResult struct {
	Request dsl.Request
	Items   []*document.Doc
}

// Query compiles and executes DSL requests.
type Query struct {
	c    *docstore.Client
	comp *dsl.Compiler
	rec  Recorder
	log  *zap.Logger
}

func NewQuery(c *docstore.Client, comp *dsl.Compiler, rec Recorder, log *zap.Logger) *Query {
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Query{c: c, comp: comp, rec: rec, log: log.Named("query")}
}

// Run compiles req and executes it. Compile errors return before any
// connection is leased.
func (q *Query) Run(ctx context.Context, req dsl.Request) (*QueryResult, error) {
	st, err := q.comp.Compile(req)
	if err != nil {
		return nil, err
	}
	q.log.Debug("query compiled", zap.String("sql", st.SQL), zap.Int("args", len(st.Args)))

	res := &QueryResult{Request: st.Request, Items: []*document.Doc{}}
	err = q.c.WithTx(ctx, "query", func(tx *sqlx.Tx) error {
		rows, err := tx.QueryxContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		for rows.Next() {
			m := make(map[string]any, len(cols))
			if err := rows.MapScan(m); err != nil {
				return err
			}
			item, err := normalizeRow(cols, m, st.Alias)
			if err != nil {
				return err
			}
			res.Items = append(res.Items, item)
		}
		return rows.Err()
	})
	q.rec.RecordStore(st.Request.From, "query", outcome(err))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// normalizeRow converts driver values into document values: JSON columns are
// decoded, timestamps become RFC 3339 strings.
func normalizeRow(cols []string, m map[string]any, alias string) (*document.Doc, error) {
	out := document.New()
	for _, col := range cols {
		v := m[col]
		switch {
		case col == "doc" || (alias != "" && col == alias):
			decoded, err := docstore.DecodeJSON(v)
			if err != nil {
				return nil, model.Wrap(model.KindUnavailable, err, "decode column %s", col)
			}
			out.Set(col, decoded)
		case col == "created_at" || col == "updated_at":
			ts, err := docstore.ParseTime(v)
			if err != nil {
				return nil, model.Wrap(model.KindUnavailable, err, "decode column %s", col)
			}
			out.Set(col, ts.Format(time.RFC3339Nano))
		default:
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			out.Set(col, document.Normalize(v))
		}
	}
	return out, nil
}
