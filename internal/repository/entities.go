package repository

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"concierge/internal/docstore"
	"concierge/internal/document"
	"concierge/internal/dsl"
	"concierge/internal/model"
)

type Entities struct {
	s store
	v *model.Validator
}

func NewEntities(c *docstore.Client, v *model.Validator, rec Recorder, log *zap.Logger) *Entities {
	return &Entities{
		s: newStore(c, table{
			name:     model.TableEntities,
			refCol:   "type",
			noun:     "entity",
			validate: v.EntityDocument,
		}, rec, log),
		v: v,
	}
}

func toEntity(r *record) *model.Entity {
	return &model.Entity{
		ID:        r.ID,
		Type:      r.Ref,
		Doc:       r.Doc,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}
}

func toEntities(rs []*record) []*model.Entity {
	out := make([]*model.Entity, len(rs))
	for i, r := range rs {
		out[i] = toEntity(r)
	}
	return out
}

// Create validates and inserts a new entity with version 1.
func (r *Entities) Create(ctx context.Context, id, typ string, doc *document.Doc) (*model.Entity, error) {
	if err := r.v.NewEntity(id, typ, doc); err != nil {
		return nil, err
	}
	rec, err := r.s.insert(ctx, id, typ, doc)
	if err != nil {
		return nil, err
	}
	return toEntity(rec), nil
}

func (r *Entities) GetByID(ctx context.Context, id string) (*model.Entity, error) {
	rec, err := r.s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return toEntity(rec), nil
}

// Update merge-patches the stored document. expected, when non-nil, is the
// version the caller last saw.
func (r *Entities) Update(ctx context.Context, id string, patch *document.Doc, expected *int64) (*model.Entity, error) {
	rec, err := r.s.update(ctx, id, patch, expected)
	if err != nil {
		return nil, err
	}
	return toEntity(rec), nil
}

// Delete removes the entity; its curations go with it through the foreign key.
func (r *Entities) Delete(ctx context.Context, id string) (bool, error) {
	return r.s.delete(ctx, id)
}

// ListByType returns the most recently updated entities of typ first.
func (r *Entities) ListByType(ctx context.Context, typ string, limit, offset int) ([]*model.Entity, error) {
	limit, offset = clampLimit(limit, offset)
	p := docstore.NewParams(r.s.d)
	tail := `WHERE "type" = ` + p.Add(typ) +
		` ORDER BY "updated_at" DESC, "id" ASC LIMIT ` + p.Add(limit) + ` OFFSET ` + p.Add(offset)
	rs, err := r.s.list(ctx, "list_by_type", p, tail)
	if err != nil {
		return nil, err
	}
	return toEntities(rs), nil
}

// SearchByName matches pattern as a case-insensitive substring of doc.name.
// Wildcards in pattern are taken literally.
func (r *Entities) SearchByName(ctx context.Context, pattern string, limit, offset int) ([]*model.Entity, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, model.Validation(model.NewFieldError(model.CodeRequired, "name", "Field 'name' is required"))
	}
	limit, offset = clampLimit(limit, offset)
	d := r.s.d
	p := docstore.NewParams(d)
	name := d.AsText(d.ValueAt(p, `"doc"`, []string{"name"}))
	tail := `WHERE ` + d.Like(name, p.Add("%"+dsl.EscapeLike(pattern)+"%")) +
		` ORDER BY ` + name + ` ASC, "id" ASC LIMIT ` + p.Add(limit) + ` OFFSET ` + p.Add(offset)
	rs, err := r.s.list(ctx, "search_by_name", p, tail)
	if err != nil {
		return nil, err
	}
	return toEntities(rs), nil
}
