package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillvault/quillvault/internal/document/service"
)

// newTestRouter wires the routes behind a middleware that turns the
// X-Test-Sub header into auth claims, standing in for the real verifier.
func newTestRouter() (*gin.Engine, *service.Service) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if sub := c.GetHeader("X-Test-Sub"); sub != "" {
			c.Set("claims", map[string]interface{}{"sub": sub})
		}
	})
	svc := service.NewMemory()
	RegisterDocumentRoutes(r, svc, 24*time.Hour)
	return r, svc
}

func do(t *testing.T, r http.Handler, method, path, sub, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if sub != "" {
		req.Header.Set("X-Test-Sub", sub)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createDoc(t *testing.T, r http.Handler, sub, body string) string {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/documents", sub, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestCreateAndListDocuments(t *testing.T) {
	r, _ := newTestRouter()

	id := createDoc(t, r, "user-1", `{"title":"notes"}`)

	w := do(t, r, http.MethodGet, "/api/documents", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])
	assert.Equal(t, "notes", list[0]["title"])
}

func TestAppendAndReadDocument(t *testing.T) {
	r, _ := newTestRouter()
	id := createDoc(t, r, "user-1", `{"title":"doc"}`)

	w := do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-1",
		`{"kind":"insert","payload":{"pos":0,"text":"hello"},"claimedVersion":1}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/api/documents/"+id, "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Version     int64  `json:"version"`
		ContentText string `json:"contentText"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, int64(1), view.Version)
	assert.Equal(t, "hello", view.ContentText)
}

func TestAppendConflictReturnsLastVersion(t *testing.T) {
	r, _ := newTestRouter()
	id := createDoc(t, r, "user-1", `{"title":"doc"}`)

	body := `{"kind":"insert","payload":{"pos":0,"text":"x"},"claimedVersion":1}`
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-1", body).Code)

	w := do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-1", body)
	require.Equal(t, http.StatusConflict, w.Code)
	var resp struct {
		LastVersion int64 `json:"lastVersion"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.LastVersion)
}

func TestAppendValidation(t *testing.T) {
	r, _ := newTestRouter()
	id := createDoc(t, r, "user-1", `{"title":"doc"}`)

	w := do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-1",
		`{"kind":"rename","payload":{},"claimedVersion":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOwnershipHidesPrivateDocuments(t *testing.T) {
	r, _ := newTestRouter()
	id := createDoc(t, r, "user-1", `{"title":"secret"}`)

	// another user sees 404, not 403
	w := do(t, r, http.MethodGet, "/api/documents/"+id, "user-2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// writes stay hidden the same way
	body := `{"kind":"insert","payload":{"pos":0,"text":"x"},"claimedVersion":1}`
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-2", body).Code)

	// the owner still reads it
	w = do(t, r, http.MethodGet, "/api/documents/"+id, "user-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPublicDocumentReadOnlyForNonOwners(t *testing.T) {
	r, _ := newTestRouter()
	id := createDoc(t, r, "", `{"title":"scratch","disposable":true}`)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/api/documents/"+id+"/claim", "user-1", "").Code)

	// claiming made it public: anyone can read
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/documents/"+id, "user-2", "").Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/documents/"+id, "", "").Code)

	// but only the owner can mutate
	body := `{"kind":"insert","payload":{"pos":0,"text":"x"},"claimedVersion":1}`
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "", body).Code)
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-2", body).Code)
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPost, "/api/documents/"+id+"/snapshots", "user-2", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPost, "/api/documents/"+id+"/restore", "user-2", `{"snapshotId":"s1"}`).Code)
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodDelete, "/api/documents/"+id, "", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodDelete, "/api/documents/"+id, "user-2", "").Code)

	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-1", body).Code)
}

func TestOrphanWritesRequireAuthentication(t *testing.T) {
	r, svc := newTestRouter()
	id := createDoc(t, r, "", `{"title":"orphan"}`)

	body := `{"kind":"insert","payload":{"pos":0,"text":"x"},"claimedVersion":1}`
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "", body).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/api/documents/"+id, "", "").Code)

	// the first authenticated writer takes ownership
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-1", body).Code)
	d, err := svc.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "user-1", d.OwnerID)
}

func TestOrphanAutoAssignedToFirstAuthenticatedReader(t *testing.T) {
	r, svc := newTestRouter()
	// created anonymously: no owner
	id := createDoc(t, r, "", `{"title":"orphan"}`)

	w := do(t, r, http.MethodGet, "/api/documents/"+id, "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	d, err := svc.GetDocument(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "user-1", d.OwnerID)

	// too late for anyone else
	w = do(t, r, http.MethodGet, "/api/documents/"+id, "user-2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReadAsOfTime(t *testing.T) {
	r, _ := newTestRouter()
	id := createDoc(t, r, "user-1", `{"title":"doc"}`)

	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-1",
		`{"kind":"insert","payload":{"pos":0,"text":"early"},"claimedVersion":1}`).Code)
	cutoff := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-1",
		`{"kind":"insert","payload":{"pos":5,"text":" late"},"claimedVersion":2}`).Code)

	w := do(t, r, http.MethodGet, "/api/documents/"+id+"?at="+cutoff.Format(time.RFC3339Nano), "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Version     int64  `json:"version"`
		ContentText string `json:"contentText"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, int64(1), view.Version)
	assert.Equal(t, "early", view.ContentText)

	w = do(t, r, http.MethodGet, "/api/documents/"+id+"?at=garbage", "user-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryAndUntilFilter(t *testing.T) {
	r, _ := newTestRouter()
	id := createDoc(t, r, "user-1", `{"title":"doc"}`)

	for v := 1; v <= 2; v++ {
		body := fmt.Sprintf(`{"kind":"insert","payload":{"pos":0,"text":"x"},"claimedVersion":%d}`, v)
		require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-1", body).Code)
	}

	w := do(t, r, http.MethodGet, "/api/documents/"+id+"/history", "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Events []json.RawMessage `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Len(t, hist.Events, 2)

	w = do(t, r, http.MethodGet, "/api/documents/"+id+"/history?until=not-a-time", "user-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	until := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	w = do(t, r, http.MethodGet, "/api/documents/"+id+"/history?until="+until, "user-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSnapshotAndRestore(t *testing.T) {
	r, _ := newTestRouter()
	id := createDoc(t, r, "user-1", `{"title":"doc"}`)

	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-1",
		`{"kind":"insert","payload":{"pos":0,"text":"keep"},"claimedVersion":1}`).Code)

	w := do(t, r, http.MethodPost, "/api/documents/"+id+"/snapshots", "user-1", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var snap struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))

	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/api/documents/"+id+"/events", "user-1",
		`{"kind":"delete","payload":{"pos":0,"len":4},"claimedVersion":2}`).Code)

	w = do(t, r, http.MethodPost, "/api/documents/"+id+"/restore", "user-1", `{"snapshotId":"`+snap.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		ContentText string `json:"contentText"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "keep", view.ContentText)

	w = do(t, r, http.MethodPost, "/api/documents/"+id+"/restore", "user-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClaimDisposable(t *testing.T) {
	r, _ := newTestRouter()
	id := createDoc(t, r, "", `{"title":"scratch","disposable":true}`)

	// anonymous claims are rejected
	w := do(t, r, http.MethodPost, "/api/documents/"+id+"/claim", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodPost, "/api/documents/"+id+"/claim", "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var d struct {
		OwnerID      string `json:"ownerId"`
		IsDisposable bool   `json:"isDisposable"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, "user-1", d.OwnerID)
	assert.False(t, d.IsDisposable)

	// a second user finds it already permanent
	w = do(t, r, http.MethodPost, "/api/documents/"+id+"/claim", "user-2", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteDocument(t *testing.T) {
	r, _ := newTestRouter()
	id := createDoc(t, r, "user-1", `{"title":"doc"}`)

	// non-owners cannot delete
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/api/documents/"+id, "user-2", "").Code)

	require.Equal(t, http.StatusNoContent, do(t, r, http.MethodDelete, "/api/documents/"+id, "user-1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/documents/"+id, "user-1", "").Code)
}
