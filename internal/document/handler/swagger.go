package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints:
// - GET /swagger/index.html -> small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json   -> machine-readable OpenAPI JSON
func RegisterSwagger(r *gin.Engine) {
	r.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	r.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>quillvault — Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "quillvault", "version": "v0.1.0" },
  "paths": {
    "/api/documents": {
      "get": { "summary": "List documents", "responses": { "200": { "description": "document summaries" } } },
      "post": {
        "summary": "Create a document",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"folderId":{"type":"string"},"disposable":{"type":"boolean"}}}}}},
        "responses": { "201": { "description": "document created" } }
      }
    },
    "/api/documents/{id}": {
      "get": { "summary": "Read reconstructed content, current or as of optional ?at=RFC3339", "responses": { "200": { "description": "content view" }, "404": { "description": "not found" } } },
      "delete": { "summary": "Delete document, cascading to events and snapshots", "responses": { "204": { "description": "deleted" }, "403": { "description": "caller is not the owner" } } }
    },
    "/api/documents/{id}/events": {
      "post": {
        "summary": "Append a change event",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"kind":{"type":"string","enum":["insert","delete","format","meta"]},"payload":{"type":"object"},"claimedVersion":{"type":"integer"}}}}}},
        "responses": { "201": { "description": "stored event" }, "403": { "description": "caller is not the owner" }, "409": { "description": "version conflict with authoritative lastVersion" } }
      }
    },
    "/api/documents/{id}/history": {
      "get": { "summary": "Ordered events and snapshots up to optional ?until cutoff", "responses": { "200": { "description": "history" } } }
    },
    "/api/documents/{id}/snapshots": {
      "post": { "summary": "Materialize a snapshot of current content", "responses": { "201": { "description": "snapshot" } } }
    },
    "/api/documents/{id}/restore": {
      "post": {
        "summary": "Restore a past snapshot as current content",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"snapshotId":{"type":"string"}}}}}},
        "responses": { "200": { "description": "restored content view" } }
      }
    },
    "/api/documents/{id}/claim": {
      "post": { "summary": "Claim a disposable document", "responses": { "200": { "description": "claimed document" }, "409": { "description": "not disposable" } } }
    }
  }
}`
