package model

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"concierge/internal/document"
	"concierge/internal/reference"
)

var (
	idRe          = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,}$`)
	categoryKeyRe = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// typed views of the open documents; unknown keys are ignored here and kept in the Doc

type metadataItem struct {
	Type   string         `json:"type" validate:"notblank"`
	Source *string        `json:"source"`
	Data   map[string]any `json:"data" validate:"required"`
}

type syncInfo struct {
	Status string `json:"status" validate:"required,sync_status"`
}

type entityDoc struct {
	Name     string         `json:"name" validate:"notblank"`
	Status   string         `json:"status" validate:"required,entity_status"`
	Metadata []metadataItem `json:"metadata" validate:"dive"`
	Sync     *syncInfo      `json:"sync" validate:"omitempty"`
}

type curator struct {
	ID    string `json:"id" validate:"notblank"`
	Name  string `json:"name" validate:"notblank"`
	Email string `json:"email" validate:"omitempty,email"`
}

type notes struct {
	Public  string `json:"public"`
	Private string `json:"private"`
}

type curationDoc struct {
	Curator    *curator            `json:"curator" validate:"required"`
	Categories map[string][]string `json:"categories" validate:"required,min=1,dive,keys,category_key,endkeys,min=1,unique,dive,notblank,lowercase"`
	Sources    []string            `json:"sources" validate:"dive,notblank"`
	Notes      *notes              `json:"notes"`
}

// Validator checks ids, entity types and documents against the reference catalog.
type Validator struct {
	v       *validator.Validate
	catalog reference.Catalog
}

func NewValidator(catalog reference.Catalog) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("category_key", func(fl validator.FieldLevel) bool {
		return categoryKeyRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("entity_status", func(fl validator.FieldLevel) bool {
		return catalog.Has(reference.EntityStatuses, fl.Field().String())
	})
	_ = v.RegisterValidation("sync_status", func(fl validator.FieldLevel) bool {
		return catalog.Has(reference.SyncStatuses, fl.Field().String())
	})
	return &Validator{v: v, catalog: catalog}
}

func (val *Validator) Catalog() reference.Catalog { return val.catalog }

// ValidID reports whether s fits the id pattern (lowercase, 3+ chars).
func ValidID(s string) bool { return idRe.MatchString(s) }

// ValidCategoryKey reports whether s may be used as a category name.
func ValidCategoryKey(s string) bool { return categoryKeyRe.MatchString(s) }

func checkID(field, id string) []FieldError {
	if id == "" {
		return []FieldError{ferr(CodeRequired, field, "Field '"+field+"' is required")}
	}
	if !ValidID(id) {
		return []FieldError{ferr(CodePattern, field,
			"must be lowercase alphanumeric with underscore/hyphen, min 3 chars")}
	}
	return nil
}

// NewEntity validates a create request.
func (val *Validator) NewEntity(id, typ string, doc *document.Doc) error {
	errs := checkID("id", id)
	switch {
	case typ == "":
		errs = append(errs, ferr(CodeRequired, "type", "Field 'type' is required"))
	case !val.catalog.Has(reference.EntityTypes, typ):
		errs = append(errs, ferr(CodeEnumInvalid, "type",
			fmt.Sprintf("must be one of %s", strings.Join(val.catalog.Codes(reference.EntityTypes), ", "))))
	}
	errs = append(errs, val.EntityDocument(doc)...)
	if len(errs) > 0 {
		return Validation(errs...)
	}
	return nil
}

// NewCuration validates a create request.
func (val *Validator) NewCuration(id, entityID string, doc *document.Doc) error {
	errs := checkID("id", id)
	errs = append(errs, checkID("entity_id", entityID)...)
	errs = append(errs, val.CurationDocument(doc)...)
	if len(errs) > 0 {
		return Validation(errs...)
	}
	return nil
}

// EntityDocument validates a full entity document (after merge for updates).
func (val *Validator) EntityDocument(doc *document.Doc) []FieldError {
	if doc == nil {
		return []FieldError{ferr(CodeRequired, "doc", "Field 'doc' is required")}
	}
	var typed entityDoc
	if fe := decodeTyped(doc, &typed); fe != nil {
		return []FieldError{*fe}
	}
	errs := val.structErrors(typed)
	// metadata may be omitted, but when present it is a non-empty list
	if raw, ok := doc.Get("metadata"); ok {
		arr, isArr := raw.([]any)
		switch {
		case !isArr:
			errs = append(errs, ferr(CodeTypeMismatch, "doc.metadata", "expected an array"))
		case len(arr) == 0:
			errs = append(errs, ferr(CodeRequired, "doc.metadata", "must contain at least one item"))
		}
	}
	return errs
}

// CurationDocument validates a full curation document.
func (val *Validator) CurationDocument(doc *document.Doc) []FieldError {
	if doc == nil {
		return []FieldError{ferr(CodeRequired, "doc", "Field 'doc' is required")}
	}
	var typed curationDoc
	if fe := decodeTyped(doc, &typed); fe != nil {
		return []FieldError{*fe}
	}
	return val.structErrors(typed)
}

func decodeTyped(doc *document.Doc, out any) *FieldError {
	b, err := json.Marshal(doc)
	if err != nil {
		e := ferr(CodeInvalid, "doc", err.Error())
		return &e
	}
	if err := json.Unmarshal(b, out); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			field := "doc"
			if te.Field != "" {
				field += "." + te.Field
			}
			e := ferr(CodeTypeMismatch, field, "expected "+te.Type.String())
			return &e
		}
		e := ferr(CodeTypeMismatch, "doc", err.Error())
		return &e
	}
	return nil
}

func (val *Validator) structErrors(s any) []FieldError {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{ferr(CodeInvalid, "doc", err.Error())}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, val.translate(fe))
	}
	return out
}

func (val *Validator) translate(fe validator.FieldError) FieldError {
	// Namespace is "entityDoc.metadata[0].type"; swap the struct name for "doc"
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = "doc" + field[i:]
	}
	switch fe.Tag() {
	case "required":
		return ferr(CodeRequired, field, "is required")
	case "notblank":
		return ferr(CodeRequired, field, "must not be empty")
	case "entity_status":
		return ferr(CodeEnumInvalid, field, "must be one of "+strings.Join(val.catalog.Codes(reference.EntityStatuses), ", "))
	case "sync_status":
		return ferr(CodeEnumInvalid, field, "must be one of "+strings.Join(val.catalog.Codes(reference.SyncStatuses), ", "))
	case "category_key":
		return ferr(CodePattern, field, "category key must match [a-z0-9_-]+")
	case "unique":
		return ferr(CodeUniqueViolation, field, "must not contain duplicates")
	case "lowercase":
		return ferr(CodePattern, field, "must be lowercase")
	case "email":
		return ferr(CodePattern, field, "must be a valid email address")
	case "min":
		return ferr(CodeRequired, field, "must contain at least "+fe.Param()+" item(s)")
	default:
		return ferr(CodeInvalid, field, "failed '"+fe.Tag()+"' check")
	}
}
