package model

import (
	"time"

	"concierge/internal/document"
)

// Entity is a row of the entities table: a few indexed columns plus the JSON doc.
type Entity struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Doc       *document.Doc `json:"doc"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Version   int64         `json:"version"`
}

// Curation is a curator's annotation of one entity.
type Curation struct {
	ID        string        `json:"id"`
	EntityID  string        `json:"entity_id"`
	Doc       *document.Doc `json:"doc"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Version   int64         `json:"version"`
}

// Table names. They are the only table identifiers ever placed in SQL text.
const (
	TableEntities  = "entities"
	TableCurations = "curations"
)
