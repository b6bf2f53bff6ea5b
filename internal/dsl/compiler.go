package dsl

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"concierge/internal/docstore"
	"concierge/internal/model"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000

	tableAlias = "t"
	elemAlias  = "xe"
)

var (
	segmentRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	aliasRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
)

// Statement is a compiled query: SQL text plus its bound arguments.
type Statement struct {
	SQL     string
	Args    []any
	Request Request // normalized request the statement was built from
	Alias   string  // explode alias, empty without explode
}

// Compiler turns Requests into parameterized SQL for one dialect.
type Compiler struct {
	d            docstore.Dialect
	defaultLimit int
	maxLimit     int
}

func NewCompiler(d docstore.Dialect, defaultLimit, maxLimit int) *Compiler {
	if maxLimit <= 0 || maxLimit > MaxLimit {
		maxLimit = MaxLimit
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = min(DefaultLimit, maxLimit)
	}
	return &Compiler{d: d, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// target is a resolved filter/sort path.
type target struct {
	column string   // set for a table column
	elem   bool     // the exploded element (or a path inside it)
	path   []string // document path segments
}

// compile state for one request
type build struct {
	c       *Compiler
	p       *docstore.Params
	table   string
	alias   string
	elem    string
	explode bool
}

// Compile validates req and renders it. Values, path segments, limit and
// offset are bound; only the allow-listed table, column names and the
// validated alias appear in the text. Nothing here touches the database.
func (c *Compiler) Compile(req Request) (Statement, error) {
	req, err := c.normalize(req)
	if err != nil {
		return Statement{}, err
	}
	b := &build{c: c, p: docstore.NewParams(c.d), table: req.From}

	var sb strings.Builder
	sb.WriteString("SELECT " + tableAlias + ".*")

	var join string
	if req.Explode != nil {
		path, err := parseDocPath(req.Explode.Path)
		if err != nil {
			return Statement{}, model.Validation(model.NewFieldError(model.CodePattern, "explode.path", err.Error()))
		}
		var elemJSON string
		join, b.elem, elemJSON = c.d.Explode(b.p, tableAlias+".doc", path, elemAlias)
		b.alias, b.explode = req.Explode.As, true
		sb.WriteString(", " + elemJSON + " AS " + docstore.QuoteIdent(b.alias))
	}
	sb.WriteString(" FROM " + docstore.QuoteIdent(req.From) + " AS " + tableAlias)
	if join != "" {
		sb.WriteString(" " + join)
	}

	where := make([]string, 0, len(req.Filters))
	for i, f := range req.Filters {
		clause, err := b.filter(i, f)
		if err != nil {
			return Statement{}, err
		}
		where = append(where, clause)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	order := make([]string, 0, len(req.Sort)+1)
	for i, s := range req.Sort {
		t, err := b.resolve(s.Path)
		if err != nil {
			return Statement{}, model.Validation(model.NewFieldError(model.CodePattern, fmt.Sprintf("sort[%d].path", i), err.Error()))
		}
		dir := " ASC"
		if s.Desc {
			dir = " DESC"
		}
		order = append(order, b.expr(t)+dir)
	}
	order = append(order, tableAlias+`."id" ASC`)
	sb.WriteString(" ORDER BY " + strings.Join(order, ", "))

	sb.WriteString(" LIMIT " + b.p.Add(req.Limit) + " OFFSET " + b.p.Add(req.Offset))

	return Statement{SQL: sb.String(), Args: b.p.Args(), Request: req, Alias: b.alias}, nil
}

func (c *Compiler) normalize(req Request) (Request, error) {
	var errs []model.FieldError
	req.From = strings.TrimSpace(req.From)
	if req.From == "" {
		errs = append(errs, model.NewFieldError(model.CodeRequired, "from", "Field 'from' is required"))
	} else if _, ok := columns[req.From]; !ok {
		errs = append(errs, model.NewFieldError(model.CodeEnumInvalid, "from",
			"must be one of "+strings.Join(Tables(), ", ")))
	}
	if req.Limit == 0 {
		req.Limit = c.defaultLimit
	}
	if req.Limit < 1 || req.Limit > c.maxLimit {
		errs = append(errs, model.NewFieldError(model.CodeInvalid, "limit",
			fmt.Sprintf("must be between 1 and %d", c.maxLimit)))
	}
	if req.Offset < 0 {
		errs = append(errs, model.NewFieldError(model.CodeInvalid, "offset", "must be >= 0"))
	}
	if req.Explode != nil {
		ex := *req.Explode
		ex.Path = strings.TrimSpace(ex.Path)
		ex.As = strings.TrimSpace(ex.As)
		if ex.As == "" {
			ex.As = defaultAlias
		}
		switch {
		case ex.Path == "":
			errs = append(errs, model.NewFieldError(model.CodeRequired, "explode.path", "Field 'explode.path' is required"))
		case !aliasRe.MatchString(ex.As):
			errs = append(errs, model.NewFieldError(model.CodePattern, "explode.as",
				"alias must match [A-Za-z_][A-Za-z0-9_]*"))
		case columns[req.From][ex.As] || ex.As == "doc" || ex.As == tableAlias || ex.As == elemAlias:
			errs = append(errs, model.NewFieldError(model.CodeInvalid, "explode.as",
				fmt.Sprintf("alias %q clashes with a column name", ex.As)))
		}
		req.Explode = &ex
	}
	if req.Filters == nil {
		req.Filters = []Filter{}
	}
	if len(errs) > 0 {
		return req, model.Validation(errs...)
	}
	return req, nil
}

// resolve maps a filter or sort path onto a column, the exploded element or
// a document path.
func (b *build) resolve(raw string) (target, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "$") {
		path, err := parseDocPath(raw)
		if err != nil {
			return target{}, err
		}
		return target{path: path}, nil
	}
	head, rest := raw, ""
	if i := strings.IndexAny(raw, ".["); i >= 0 {
		head, rest = raw[:i], raw[i:]
	}
	if b.explode && head == b.alias {
		path, err := parseSegments(rest)
		if err != nil {
			return target{}, err
		}
		return target{elem: true, path: path}, nil
	}
	if rest == "" && columns[b.table][head] {
		return target{column: head}, nil
	}
	return target{}, fmt.Errorf("unknown path %q (use $.field, a column name or the explode alias)", raw)
}

// expr renders the SQL expression for t.
func (b *build) expr(t target) string {
	d := b.c.d
	switch {
	case t.column != "":
		return tableAlias + "." + docstore.QuoteIdent(t.column)
	case t.elem && len(t.path) == 0:
		return b.elem
	case t.elem:
		return d.ValueAt(b.p, b.elem, t.path)
	default:
		return d.ValueAt(b.p, tableAlias+".doc", t.path)
	}
}

func (b *build) filter(i int, f Filter) (string, error) {
	op := strings.ToLower(strings.TrimSpace(f.Operator))
	field := func(name string) string { return fmt.Sprintf("filters[%d].%s", i, name) }
	invalid := func(name, msg string) error {
		return model.Validation(model.NewFieldError(model.CodeInvalid, field(name), msg))
	}

	if _, ok := comparison[op]; !ok && op != OpLike && op != OpContains && op != OpIn {
		return "", &model.Error{
			Kind: model.KindUnsupportedOperator,
			Msg:  fmt.Sprintf("unsupported operator %q", f.Operator),
			Fields: []model.FieldError{model.NewFieldError(model.CodeUnsupportedOperator, field("operator"),
				"must be one of "+strings.Join(Operators(), ", "))},
		}
	}
	t, err := b.resolve(f.Path)
	if err != nil {
		return "", model.Validation(model.NewFieldError(model.CodePattern, field("path"), err.Error()))
	}
	d := b.c.d
	lhs := b.expr(t)

	switch op {
	case OpLike, OpContains:
		s, ok := scalarText(f.Value)
		if !ok {
			return "", invalid("value", "must be a string or number")
		}
		if t.column != "" {
			lhs = "CAST(" + lhs + " AS TEXT)"
		} else {
			lhs = d.AsText(lhs)
		}
		return d.Like(lhs, b.p.Add("%"+escapeLike(s)+"%")), nil

	case OpIn:
		list, ok := f.Value.([]any)
		if !ok || len(list) == 0 {
			return "", invalid("value", "must be a non-empty array")
		}
		ph := make([]string, 0, len(list))
		// with untyped equality values are grouped by JSON type so each
		// group only matches documents holding that type
		var groups [][]string
		byType := map[string]int{}
		for j, v := range list {
			if !isScalar(v) || v == nil {
				return "", invalid(fmt.Sprintf("value[%d]", j), "must be a string, number or boolean")
			}
			s, err := b.bind(t, v)
			if err != nil {
				return "", invalid(fmt.Sprintf("value[%d]", j), err.Error())
			}
			ph = append(ph, s)
			key := strings.Join(d.TypeNames(v), ",")
			gi, seen := byType[key]
			if !seen {
				gi = len(groups)
				byType[key] = gi
				groups = append(groups, []string{key})
			}
			groups[gi] = append(groups[gi], s)
		}
		if t.column != "" || d.TypedEquality() {
			return lhs + " IN (" + strings.Join(ph, ", ") + ")", nil
		}
		typeOf := b.typeOf(t)
		parts := make([]string, 0, len(groups))
		for _, g := range groups {
			parts = append(parts, "("+lhs+" IN ("+strings.Join(g[1:], ", ")+") AND "+
				typeIn(typeOf, strings.Split(g[0], ","))+")")
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	}

	if f.Value == nil {
		switch op {
		case OpEq:
			return b.nullTest(t, lhs) + " IS NULL", nil
		case OpNe:
			return b.nullTest(t, lhs) + " IS NOT NULL", nil
		default:
			return "", invalid("value", "null can only be compared with = or !=")
		}
	}
	if t.column != "" && !isScalar(f.Value) {
		return "", invalid("value", "columns compare against scalars only")
	}
	rhs, err := b.bind(t, f.Value)
	if err != nil {
		return "", invalid("value", err.Error())
	}
	cmp := lhs + " " + comparison[op] + " " + rhs
	if t.column != "" {
		return cmp, nil
	}
	// Ordered comparisons match only values of the same JSON type. != also
	// holds for a present value of another type.
	switch {
	case op == OpNe && !d.TypedEquality():
		return "(" + cmp + " OR NOT " + typeIn(b.typeOf(t), d.TypeNames(f.Value)) + ")", nil
	case op == OpEq && !d.TypedEquality(), op != OpEq && op != OpNe:
		return "(" + cmp + " AND " + typeIn(b.typeOf(t), d.TypeNames(f.Value)) + ")", nil
	}
	return cmp, nil
}

func (b *build) nullTest(t target, lhs string) string {
	if t.column != "" {
		return lhs
	}
	return b.c.d.AsText(lhs)
}

// typeOf is the JSON type expression of a document target.
func (b *build) typeOf(t target) string {
	d := b.c.d
	switch {
	case t.elem && len(t.path) == 0:
		return d.ElemTypeOf(elemAlias)
	case t.elem:
		return d.TypeOf(b.p, b.elem, t.path)
	default:
		return d.TypeOf(b.p, tableAlias+".doc", t.path)
	}
}

func typeIn(expr string, names []string) string {
	return expr + " IN ('" + strings.Join(names, "', '") + "')"
}

// bind renders a comparison operand for t.
func (b *build) bind(t target, v any) (string, error) {
	if t.column != "" {
		return b.p.Add(columnValue(v)), nil
	}
	return b.c.d.BindJSON(b.p, v)
}

// columnValue narrows whole JSON numbers so integer columns bind as integers.
func columnValue(v any) any {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return v
	}
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return v
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, float64, float32, int, int64, int32, json.Number:
		return true
	}
	return false
}

func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}

// escapeLike makes s match literally inside a LIKE pattern with '\' as escape.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// EscapeLike is escapeLike for other packages building LIKE patterns.
func EscapeLike(s string) string { return escapeLike(s) }

// parseDocPath parses "$", "$.a.b", "$.a[0].b" into segments. The bare "$"
// is rejected.
func parseDocPath(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "$") {
		return nil, fmt.Errorf("document path %q must start with '$'", raw)
	}
	segs, err := parseSegments(raw[1:])
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("document path %q selects the whole document", raw)
	}
	return segs, nil
}

// parseSegments parses a ".a[0].b" tail.
func parseSegments(s string) ([]string, error) {
	var out []string
	for len(s) > 0 {
		switch s[0] {
		case '.':
			s = s[1:]
			end := strings.IndexAny(s, ".[")
			if end < 0 {
				end = len(s)
			}
			seg := s[:end]
			if !segmentRe.MatchString(seg) {
				return nil, fmt.Errorf("invalid path segment %q", seg)
			}
			out = append(out, seg)
			s = s[end:]
		case '[':
			end := strings.IndexByte(s, ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated index in path")
			}
			idx := s[1:end]
			if _, err := strconv.ParseUint(idx, 10, 32); err != nil {
				return nil, fmt.Errorf("invalid array index %q", idx)
			}
			out = append(out, idx)
			s = s[end+1:]
		default:
			return nil, fmt.Errorf("unexpected %q in path", s[0])
		}
	}
	return out, nil
}
