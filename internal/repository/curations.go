package repository

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"concierge/internal/docstore"
	"concierge/internal/document"
	"concierge/internal/model"
)

type Curations struct {
	s store
	v *model.Validator
}

func NewCurations(c *docstore.Client, v *model.Validator, rec Recorder, log *zap.Logger) *Curations {
	return &Curations{
		s: newStore(c, table{
			name:     model.TableCurations,
			refCol:   "entity_id",
			noun:     "curation",
			validate: v.CurationDocument,
		}, rec, log),
		v: v,
	}
}

func toCuration(r *record) *model.Curation {
	return &model.Curation{
		ID:        r.ID,
		EntityID:  r.Ref,
		Doc:       r.Doc,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}
}

func toCurations(rs []*record) []*model.Curation {
	out := make([]*model.Curation, len(rs))
	for i, r := range rs {
		out[i] = toCuration(r)
	}
	return out
}

// Create inserts a curation. A missing parent entity is an InvalidReference
// and nothing is written.
func (r *Curations) Create(ctx context.Context, id, entityID string, doc *document.Doc) (*model.Curation, error) {
	if err := r.v.NewCuration(id, entityID, doc); err != nil {
		return nil, err
	}
	rec, err := r.s.insert(ctx, id, entityID, doc)
	if err != nil {
		return nil, err
	}
	return toCuration(rec), nil
}

func (r *Curations) GetByID(ctx context.Context, id string) (*model.Curation, error) {
	rec, err := r.s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return toCuration(rec), nil
}

func (r *Curations) Update(ctx context.Context, id string, patch *document.Doc, expected *int64) (*model.Curation, error) {
	rec, err := r.s.update(ctx, id, patch, expected)
	if err != nil {
		return nil, err
	}
	return toCuration(rec), nil
}

func (r *Curations) Delete(ctx context.Context, id string) (bool, error) {
	return r.s.delete(ctx, id)
}

// ListByEntity returns the curations of one entity, newest first.
func (r *Curations) ListByEntity(ctx context.Context, entityID string, limit, offset int) ([]*model.Curation, error) {
	limit, offset = clampLimit(limit, offset)
	p := docstore.NewParams(r.s.d)
	tail := `WHERE "entity_id" = ` + p.Add(entityID) +
		` ORDER BY "created_at" DESC, "id" ASC LIMIT ` + p.Add(limit) + ` OFFSET ` + p.Add(offset)
	rs, err := r.s.list(ctx, "list_by_entity", p, tail)
	if err != nil {
		return nil, err
	}
	return toCurations(rs), nil
}

// FindByCategoryConcept returns curations whose categories[category] list
// holds concept exactly. Each curation appears once however often the
// concept is repeated.
func (r *Curations) FindByCategoryConcept(ctx context.Context, category, concept string, limit int) ([]*model.Curation, error) {
	category = strings.TrimSpace(category)
	var errs []model.FieldError
	switch {
	case category == "":
		errs = append(errs, model.NewFieldError(model.CodeRequired, "category", "Field 'category' is required"))
	case !model.ValidCategoryKey(category):
		errs = append(errs, model.NewFieldError(model.CodePattern, "category", "category key must match [a-z0-9_-]+"))
	}
	if concept == "" {
		errs = append(errs, model.NewFieldError(model.CodeRequired, "concept", "Field 'concept' is required"))
	}
	if len(errs) > 0 {
		return nil, model.Validation(errs...)
	}
	limit, _ = clampLimit(limit, 0)

	d := r.s.d
	p := docstore.NewParams(d)
	tail := `WHERE ` + d.ArrayContains(p, model.TableCurations+`."doc"`, []string{"categories", category}, concept) +
		` ORDER BY "created_at" DESC, "id" ASC LIMIT ` + p.Add(limit)
	rs, err := r.s.list(ctx, "find_by_category_concept", p, tail)
	if err != nil {
		return nil, err
	}
	return toCurations(rs), nil
}
