package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"concierge/internal/dsl"
	"concierge/internal/reference"
)

// APIVersion is reported by /info.
const APIVersion = "3.0"

type metaQuery struct {
	Tables    []string            `json:"tables"`
	Columns   map[string][]string `json:"columns"`
	Operators []string            `json:"operators"`
	MaxLimit  int                 `json:"max_limit"`
}

type metaEnum struct {
	Name  string   `json:"name"`
	Codes []string `json:"codes"`
}

// GET /health
// The ping error is logged, never returned.
func HealthHandler(dbCheck healthcheck.Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		if dbCheck != nil {
			if err := dbCheck(); err != nil {
				loggerFrom(c).Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":   "unhealthy",
					"version":  APIVersion,
					"database": "disconnected",
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"version":  APIVersion,
			"database": "connected",
		})
	}
}

// GET /info
func InfoHandler(driver string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     APIVersion,
			"description": "Document-oriented REST API for concierge entities and curations",
			"storage":     driver,
			"endpoints": gin.H{
				"entities": gin.H{
					"POST /entities":              "Create entity",
					"GET /entities/:id":           "Get entity",
					"PATCH /entities/:id":         "Update entity (merge patch)",
					"DELETE /entities/:id":        "Delete entity and its curations",
					"GET /entities?type=X":        "List entities by type",
					"GET /entities?name=X":        "Search entities by name",
					"GET /entities/:id/curations": "Curations of an entity",
				},
				"curations": gin.H{
					"POST /curations":                            "Create curation",
					"GET /curations/:id":                         "Get curation",
					"PATCH /curations/:id":                       "Update curation (merge patch)",
					"DELETE /curations/:id":                      "Delete curation",
					"GET /curations/search?category=X&concept=Y": "Search curations by concept",
				},
				"query": gin.H{
					"POST /query": "Execute query DSL",
				},
			},
			"features": []string{
				"Document-oriented storage",
				"JSON merge patch for partial updates",
				"Optimistic locking with version control",
				"Functional indexes on JSON paths",
				"Array explode in queries",
				"Query DSL",
			},
		})
	}
}

// GET /meta
// Lists the enum directories documents are validated against and what the
// query DSL accepts.
func MetaHandler(catalog reference.Catalog, lim Limits) gin.HandlerFunc {
	return func(c *gin.Context) {
		enums := make([]metaEnum, 0, 3)
		for _, name := range []string{reference.EntityTypes, reference.EntityStatuses, reference.SyncStatuses} {
			enums = append(enums, metaEnum{Name: name, Codes: catalog.Codes(name)})
		}
		cols := make(map[string][]string, len(dsl.Tables()))
		for _, t := range dsl.Tables() {
			cols[t] = dsl.Columns(t)
		}
		c.JSON(http.StatusOK, gin.H{
			"enums": enums,
			"query": metaQuery{
				Tables:    dsl.Tables(),
				Columns:   cols,
				Operators: dsl.Operators(),
				MaxLimit:  lim.Max,
			},
		})
	}
}
