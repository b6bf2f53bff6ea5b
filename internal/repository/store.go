// Package repository implements entity and curation persistence on top of
// the document store client, including optimistic-concurrency updates.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"concierge/internal/docstore"
	"concierge/internal/document"
	"concierge/internal/model"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000

	// lost races retried for updates without a version precondition
	maxUpdateRetries = 5
)

// Recorder receives store outcomes; *metrics.Metrics implements it.
type Recorder interface {
	RecordStore(table, op, outcome string)
	RecordVersionConflict(table string)
}

type nopRecorder struct{}

func (nopRecorder) RecordStore(string, string, string) {}
func (nopRecorder) RecordVersionConflict(string)       {}

// row is the common shape of both tables; ref is "type" or "entity_id".
type row struct {
	ID        string             `db:"id"`
	Ref       string             `db:"ref"`
	Doc       []byte             `db:"doc"`
	CreatedAt docstore.Timestamp `db:"created_at"`
	UpdatedAt docstore.Timestamp `db:"updated_at"`
	Version   int64              `db:"version"`
}

type record struct {
	ID        string
	Ref       string
	Doc       *document.Doc
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

func (r row) record() (*record, error) {
	doc, err := docstore.DecodeDoc(r.Doc)
	if err != nil {
		return nil, err
	}
	return &record{
		ID:        r.ID,
		Ref:       r.Ref,
		Doc:       doc,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
		Version:   r.Version,
	}, nil
}

// table carries everything that differs between entities and curations.
type table struct {
	name     string
	refCol   string
	noun     string
	validate func(*document.Doc) []model.FieldError
}

func (t table) columns() string {
	return `"id", "` + t.refCol + `" AS "ref", "doc", "created_at", "updated_at", "version"`
}

type store struct {
	c   *docstore.Client
	d   docstore.Dialect
	t   table
	rec Recorder
	log *zap.Logger
}

func newStore(c *docstore.Client, t table, rec Recorder, log *zap.Logger) store {
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return store{c: c, d: c.Dialect(), t: t, rec: rec, log: log.Named(t.name)}
}

func (s store) tx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	err := s.c.WithTx(ctx, s.t.name+"."+op, fn)
	s.rec.RecordStore(s.t.name, op, outcome(err))
	return err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return model.KindOf(err).String()
}

func (s store) insert(ctx context.Context, id, ref string, doc *document.Doc) (*record, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, model.Validation(model.NewFieldError(model.CodeInvalid, "doc", err.Error()))
	}
	now := s.c.Now()
	p := docstore.NewParams(s.d)
	q := `INSERT INTO ` + s.t.name + ` ("id", "` + s.t.refCol + `", "doc", "created_at", "updated_at", "version") VALUES (` +
		p.Add(id) + `, ` + p.Add(ref) + `, ` + s.d.BindDoc(p, body) + `, ` +
		p.Add(s.d.TimeValue(now)) + `, ` + p.Add(s.d.TimeValue(now)) + `, 1)`

	err = s.tx(ctx, "create", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, q, p.Args()...); err != nil {
			switch s.c.Classify(err) {
			case model.KindConflict:
				return &model.Error{
					Kind:   model.KindConflict,
					Msg:    s.t.noun + " " + quote(id) + " already exists",
					Fields: []model.FieldError{model.NewFieldError(model.CodeUniqueViolation, "id", "already exists")},
					Err:    err,
				}
			case model.KindInvalidReference:
				return &model.Error{
					Kind: model.KindInvalidReference,
					Msg:  "entity " + quote(ref) + " not found",
					Fields: []model.FieldError{model.NewFieldError(model.CodeRefNotFound, s.t.refCol,
						"Referenced entity not found")},
					Err: err,
				}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record{ID: id, Ref: ref, Doc: doc.Clone(), CreatedAt: now, UpdatedAt: now, Version: 1}, nil
}

func (s store) get(ctx context.Context, id string) (*record, error) {
	var out *record
	err := s.tx(ctx, "get", func(tx *sqlx.Tx) error {
		r, err := s.getTx(ctx, tx, id)
		out = r
		return err
	})
	return out, err
}

func (s store) getTx(ctx context.Context, tx *sqlx.Tx, id string) (*record, error) {
	p := docstore.NewParams(s.d)
	q := `SELECT ` + s.t.columns() + ` FROM ` + s.t.name + ` WHERE "id" = ` + p.Add(id)
	var r row
	if err := tx.GetContext(ctx, &r, q, p.Args()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.Errorf(model.KindNotFound, "%s %s not found", s.t.noun, quote(id))
		}
		return nil, err
	}
	return r.record()
}

func (s store) delete(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := s.tx(ctx, "delete", func(tx *sqlx.Tx) error {
		p := docstore.NewParams(s.d)
		res, err := tx.ExecContext(ctx, `DELETE FROM `+s.t.name+` WHERE "id" = `+p.Add(id), p.Args()...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		removed = n > 0
		return err
	})
	return removed, err
}

// list runs a select whose WHERE/ORDER BY tail was rendered with p.
func (s store) list(ctx context.Context, op string, p *docstore.Params, tail string) ([]*record, error) {
	q := `SELECT ` + s.t.columns() + ` FROM ` + s.t.name + ` ` + tail
	var out []*record
	err := s.tx(ctx, op, func(tx *sqlx.Tx) error {
		var rows []row
		if err := tx.SelectContext(ctx, &rows, q, p.Args()...); err != nil {
			return err
		}
		out = make([]*record, 0, len(rows))
		for _, r := range rows {
			rec, err := r.record()
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

var errLostRace = errors.New("row changed between read and conditional write")

// update applies patch with merge-patch semantics. With expected set the
// stored version must match it. Without it, a concurrent writer that slips
// in between the read and the conditional write only causes a retry.
func (s store) update(ctx context.Context, id string, patch *document.Doc, expected *int64) (*record, error) {
	if patch == nil {
		return nil, model.Validation(model.NewFieldError(model.CodeRequired, "doc", "Field 'doc' is required"))
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, model.Validation(model.NewFieldError(model.CodeInvalid, "doc", err.Error()))
	}

	if expected != nil {
		out, err := s.updateOnce(ctx, id, patch, body, expected)
		return out, s.conflict(err)
	}

	var out *record
	b := backoff.WithContext(backoff.WithMaxRetries(newRetryBackOff(), maxUpdateRetries), ctx)
	err = backoff.Retry(func() error {
		rec, err := s.updateOnce(ctx, id, patch, body, nil)
		if err != nil {
			if errors.Is(err, errLostRace) {
				s.log.Debug("update lost race, retrying", zap.String("id", id))
				return err
			}
			return backoff.Permanent(err)
		}
		out = rec
		return nil
	}, b)
	return out, s.conflict(err)
}

func newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	return b
}

// conflict counts version conflicts on their way out.
func (s store) conflict(err error) error {
	if model.KindOf(err) == model.KindVersionConflict {
		s.rec.RecordVersionConflict(s.t.name)
	}
	return err
}

func (s store) updateOnce(ctx context.Context, id string, patch *document.Doc, body []byte, expected *int64) (*record, error) {
	var out *record
	err := s.tx(ctx, "update", func(tx *sqlx.Tx) error {
		cur, err := s.getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if expected != nil && cur.Version != *expected {
			return &model.Error{
				Kind: model.KindVersionConflict,
				Msg: "version mismatch: expected " + itoa(*expected) + ", current " + itoa(cur.Version),
				Fields: []model.FieldError{model.NewFieldError(model.CodeVersionConflict, "version",
					"current version is "+itoa(cur.Version))},
			}
		}
		merged := document.MergeDoc(cur.Doc, patch)
		if fields := s.t.validate(merged); len(fields) > 0 {
			return model.Validation(fields...)
		}

		p := docstore.NewParams(s.d)
		q := `UPDATE ` + s.t.name + ` SET "doc" = ` + s.d.MergePatch(`"doc"`, s.d.BindDoc(p, body)) +
			`, "version" = "version" + 1, "updated_at" = ` + p.Add(s.d.TimeValue(s.c.Now())) +
			` WHERE "id" = ` + p.Add(id) + ` AND "version" = ` + p.Add(cur.Version) +
			` RETURNING ` + s.t.columns()
		var r row
		if err := tx.GetContext(ctx, &r, q, p.Args()...); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			// someone else committed first; tell a vanished row from a bumped version
			if _, gerr := s.getTx(ctx, tx, id); gerr != nil {
				return gerr
			}
			return model.Wrap(model.KindVersionConflict, errLostRace, "%s %s was modified concurrently", s.t.noun, quote(id))
		}
		out, err = r.record()
		return err
	})
	return out, err
}

// clampLimit applies the default and upper bound used by list endpoints.
func clampLimit(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func quote(s string) string { return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"` }
