package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quillvault/quillvault/internal/document"
	"github.com/quillvault/quillvault/internal/document/service"
)

// subFromClaims extracts the authenticated subject placed into the context
// by the auth middleware. Empty when the request is anonymous.
func subFromClaims(c *gin.Context) string {
	v, ok := c.Get("claims")
	if !ok {
		return ""
	}
	cm, ok := v.(map[string]interface{})
	if !ok {
		return ""
	}
	sub, _ := cm["sub"].(string)
	return sub
}

// canRead reports whether the caller may see the document. Orphaned
// permanent documents are auto-assigned to the first authenticated caller
// through the service's single AssignOrphan operation.
func canRead(c *gin.Context, svc *service.Service, d *document.Document) bool {
	sub := subFromClaims(c)
	if d.IsDisposable || d.IsPublic {
		return true
	}
	if d.OwnerID == "" {
		if sub == "" {
			return true
		}
		assigned, err := svc.AssignOrphan(c.Request.Context(), d.ID, sub)
		if err != nil {
			return false
		}
		return assigned.OwnerID == sub || assigned.IsPublic
	}
	return d.OwnerID == sub
}

// canWrite gates the mutating routes. Public visibility grants reading
// only: appending events, snapshotting, restoring and deleting require
// ownership. A disposable document has no owner yet and stays writable
// until claimed; an orphaned permanent document goes to the first
// authenticated writer.
func canWrite(c *gin.Context, svc *service.Service, d *document.Document) bool {
	sub := subFromClaims(c)
	if d.IsDisposable {
		return true
	}
	if d.OwnerID == "" {
		if sub == "" {
			return false
		}
		assigned, err := svc.AssignOrphan(c.Request.Context(), d.ID, sub)
		if err != nil {
			return false
		}
		return assigned.OwnerID == sub
	}
	return d.OwnerID == sub
}

// denyWrite keeps private documents hidden as 404 and refuses writes to
// visible ones explicitly.
func denyWrite(c *gin.Context, d *document.Document) {
	if d.IsPublic {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func writeError(c *gin.Context, err error) {
	var vErr *document.ValidationError
	var cErr *document.ConflictError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
	case errors.As(err, &cErr):
		c.JSON(http.StatusConflict, gin.H{"error": cErr.Error(), "lastVersion": cErr.LastVersion})
	case errors.Is(err, document.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, document.ErrNotDisposable):
		c.JSON(http.StatusConflict, gin.H{"error": "document is not disposable"})
	case errors.Is(err, document.ErrAlreadyOwned):
		c.JSON(http.StatusConflict, gin.H{"error": "document already has an owner"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// RegisterDocumentRoutes binds the versioning engine's HTTP surface.
func RegisterDocumentRoutes(r *gin.Engine, svc *service.Service, disposableTTL time.Duration) {
	r.GET("/api/documents", func(c *gin.Context) {
		list, err := svc.ListDocuments(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]gin.H, 0, len(list))
		for _, d := range list {
			out = append(out, gin.H{
				"id":          d.ID,
				"title":       d.Title,
				"contentText": d.ContentText,
				"isPublic":    d.IsPublic,
				"updatedAt":   d.UpdatedAt,
			})
		}
		c.JSON(http.StatusOK, out)
	})

	r.POST("/api/documents", func(c *gin.Context) {
		var req struct {
			Title      string `json:"title"`
			FolderID   string `json:"folderId"`
			Disposable bool   `json:"disposable"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		in := service.CreateInput{
			Title:      req.Title,
			FolderID:   req.FolderID,
			Disposable: req.Disposable,
			TTL:        disposableTTL,
		}
		if !req.Disposable {
			in.OwnerID = subFromClaims(c)
		}
		d, err := svc.CreateDocument(c.Request.Context(), in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, d)
	})

	r.GET("/api/documents/:id", func(c *gin.Context) {
		id := c.Param("id")
		d, err := svc.GetDocument(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		if !canRead(c, svc, d) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		var v *service.ContentView
		if raw := c.Query("at"); raw != "" {
			at, perr := time.Parse(time.RFC3339, raw)
			if perr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "at must be RFC3339"})
				return
			}
			v, err = svc.ReadAt(c.Request.Context(), id, at)
		} else {
			v, err = svc.ReadCurrent(c.Request.Context(), id)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	})

	r.POST("/api/documents/:id/events", func(c *gin.Context) {
		id := c.Param("id")
		var req struct {
			Kind           string          `json:"kind"`
			Payload        json.RawMessage `json:"payload"`
			ClaimedVersion int64           `json:"claimedVersion"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d, err := svc.GetDocument(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		if !canWrite(c, svc, d) {
			denyWrite(c, d)
			return
		}
		e, err := svc.AppendEvent(c.Request.Context(), id, document.EventKind(req.Kind), req.Payload, req.ClaimedVersion)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, e)
	})

	r.GET("/api/documents/:id/history", func(c *gin.Context) {
		id := c.Param("id")
		d, err := svc.GetDocument(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		if !canRead(c, svc, d) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		var cutoff *time.Time
		if raw := c.Query("until"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "until must be RFC3339"})
				return
			}
			cutoff = &t
		}
		h, err := svc.ReadHistory(c.Request.Context(), id, cutoff)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, h)
	})

	r.POST("/api/documents/:id/snapshots", func(c *gin.Context) {
		id := c.Param("id")
		d, err := svc.GetDocument(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		if !canWrite(c, svc, d) {
			denyWrite(c, d)
			return
		}
		snap, err := svc.CreateSnapshot(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, snap)
	})

	r.POST("/api/documents/:id/restore", func(c *gin.Context) {
		id := c.Param("id")
		var req struct {
			SnapshotID string `json:"snapshotId"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.SnapshotID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "snapshotId is required"})
			return
		}
		d, err := svc.GetDocument(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		if !canWrite(c, svc, d) {
			denyWrite(c, d)
			return
		}
		v, err := svc.Restore(c.Request.Context(), id, req.SnapshotID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	})

	r.POST("/api/documents/:id/claim", func(c *gin.Context) {
		id := c.Param("id")
		sub := subFromClaims(c)
		if sub == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		d, err := svc.ClaimDisposable(c.Request.Context(), id, sub)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	r.DELETE("/api/documents/:id", func(c *gin.Context) {
		id := c.Param("id")
		d, err := svc.GetDocument(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		if !canWrite(c, svc, d) {
			denyWrite(c, d)
			return
		}
		if err := svc.DeleteDocument(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
