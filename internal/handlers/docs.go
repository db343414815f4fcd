package handlers

import (
	"encoding/json"
	"net/http"

	"air-quality-platform/internal/models"
)

type schema = map[string]interface{}

func jsonContent(s schema) schema {
	return schema{"application/json": schema{"schema": s}}
}

func pageParams() []schema {
	return []schema{
		{
			"name":        "page",
			"in":          "query",
			"description": "Page number (default: 1)",
			"required":    false,
			"schema":      schema{"type": "integer", "default": 1},
		},
		{
			"name":        "limit",
			"in":          "query",
			"description": "Rows per page (default: 100, max: 1000)",
			"required":    false,
			"schema":      schema{"type": "integer", "default": 100},
		},
	}
}

// rowSchema describes one NormalizedRow; absent pollutants are null
func rowSchema() schema {
	props := schema{
		"date": schema{"type": "string", "example": "2025-01-01 08:00:00"},
	}
	for _, p := range models.Pollutants {
		props[p] = schema{"type": "number", "nullable": true}
	}
	return schema{"type": "object", "properties": props}
}

var errorSchema = schema{
	"type": "object",
	"properties": schema{
		"error":   schema{"type": "string"},
		"message": schema{"type": "string"},
		"code":    schema{"type": "integer"},
	},
}

// OpenAPISpec returns the OpenAPI 3.0 document for the status server
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := schema{
		"openapi": "3.0.0",
		"info": schema{
			"title":       "Air Quality Pipeline Status API",
			"description": "Run health, metrics and the air pollution tables written by the pipeline",
			"version":     "1.0.0",
		},
		"paths": schema{
			"/api/artifacts": schema{
				"get": schema{
					"summary": "List artifacts",
					"responses": schema{
						"200": schema{
							"description": "Artifact names, sorted",
							"content": jsonContent(schema{
								"type": "object",
								"properties": schema{
									"artifacts": schema{"type": "array", "items": schema{"type": "string"}},
									"count":     schema{"type": "integer"},
								},
							}),
						},
					},
				},
			},
			"/api/artifacts/{name}": schema{
				"get": schema{
					"summary": "Read one artifact",
					"parameters": append([]schema{{
						"name":     "name",
						"in":       "path",
						"required": true,
						"schema":   schema{"type": "string"},
					}}, pageParams()...),
					"responses": schema{
						"200": schema{
							"description": "Rows in file order",
							"content": jsonContent(schema{
								"type": "object",
								"properties": schema{
									"data":        schema{"type": "array", "items": rowSchema()},
									"total":       schema{"type": "integer"},
									"page":        schema{"type": "integer"},
									"limit":       schema{"type": "integer"},
									"total_pages": schema{"type": "integer"},
								},
							}),
						},
						"400": schema{"description": "Invalid name", "content": jsonContent(errorSchema)},
						"404": schema{"description": "No such artifact", "content": jsonContent(errorSchema)},
					},
				},
			},
			"/health": schema{
				"get": schema{
					"summary": "Health check",
					"responses": schema{
						"200": schema{"description": "Healthy"},
						"503": schema{"description": "A mirror dependency is unhealthy"},
					},
				},
			},
			"/metrics": schema{
				"get": schema{
					"summary": "Prometheus metrics",
					"responses": schema{
						"200": schema{
							"description": "Prometheus metrics in text format",
							"content":     schema{"text/plain": schema{"schema": schema{"type": "string"}}},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
