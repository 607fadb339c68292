// Package api exposes registered models over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/gogotex/gogotex/backend/odm/internal/delta"
	"github.com/gogotex/gogotex/backend/odm/internal/document"
	"github.com/gogotex/gogotex/backend/odm/internal/odm"
	"github.com/gogotex/gogotex/backend/odm/internal/populate"
	"github.com/gogotex/gogotex/backend/odm/internal/query"
	"github.com/gogotex/gogotex/backend/odm/internal/schema"
	"github.com/gogotex/gogotex/backend/odm/pkg/logger"
)

type Handler struct {
	registry *odm.Registry
}

func NewHandler(reg *odm.Registry) *Handler {
	return &Handler{registry: reg}
}

// Register mounts the model routes and the health check.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/api", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": h.registry.Names()})
	})

	g := r.Group("/api/:model")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.patch)
	g.DELETE("/:id", h.remove)
}

// PatchRequest is the body of PATCH /api/:model/:id. Version, when given,
// must equal the stored version for the update to apply.
type PatchRequest struct {
	Set       map[string]any   `json:"set"`
	Unset     []string         `json:"unset"`
	Push      map[string][]any `json:"push"`
	AddToSet  map[string][]any `json:"addToSet"`
	Pull      map[string][]any `json:"pull"`
	Increment bool             `json:"increment"`
	Version   *int64           `json:"version"`
}

func (h *Handler) model(c *gin.Context) (*odm.Model, bool) {
	m, err := h.registry.Model(c.Param("model"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return m, true
}

// findOptions reads populate, select, sort, skip and limit from the query string.
func findOptions(c *gin.Context) (odm.FindOptions, error) {
	var opts odm.FindOptions
	sel, err := query.ParseSelect(strings.ReplaceAll(c.Query("select"), ",", " "))
	if err != nil {
		return opts, err
	}
	opts.Select = sel
	opts.Sort = query.ParseSort(strings.ReplaceAll(c.Query("sort"), ",", " "))
	if opts.Skip, err = intParam(c, "skip"); err != nil {
		return opts, err
	}
	if opts.Limit, err = intParam(c, "limit"); err != nil {
		return opts, err
	}
	if p := c.Query("populate"); p != "" {
		opts.Populate = populate.Paths(strings.ReplaceAll(p, ",", " "))
	}
	return opts, nil
}

func intParam(c *gin.Context, name string) (int64, error) {
	s := c.Query(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, &paramError{name: name, value: s}
	}
	return n, nil
}

type paramError struct{ name, value string }

func (e *paramError) Error() string {
	return "invalid " + e.name + " parameter: " + strconv.Quote(e.value)
}

func (h *Handler) list(c *gin.Context) {
	m, ok := h.model(c)
	if !ok {
		return
	}
	opts, err := findOptions(c)
	if err != nil {
		writeError(c, err)
		return
	}
	filter := bson.M{}
	for k, vs := range c.Request.URL.Query() {
		if strings.HasPrefix(k, "where.") && len(vs) > 0 {
			path := strings.TrimPrefix(k, "where.")
			v, err := m.Schema().Cast(path, vs[0])
			if err != nil {
				writeError(c, err)
				return
			}
			filter[path] = v
		}
	}

	if lean, _ := strconv.ParseBool(c.Query("lean")); lean {
		raws, err := m.FindLean(c.Request.Context(), filter, opts)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, raws)
		return
	}
	docs, err := m.Find(c.Request.Context(), filter, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = Render(d)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) get(c *gin.Context) {
	m, ok := h.model(c)
	if !ok {
		return
	}
	opts, err := findOptions(c)
	if err != nil {
		writeError(c, err)
		return
	}
	doc, err := m.FindByID(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Render(doc))
}

func (h *Handler) create(c *gin.Context) {
	m, ok := h.model(c)
	if !ok {
		return
	}
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, err := m.New(body)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := m.Save(c.Request.Context(), doc); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Render(doc))
}

func (h *Handler) patch(c *gin.Context) {
	m, ok := h.model(c)
	if !ok {
		return
	}
	var req PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	doc, err := m.FindByID(ctx, c.Param("id"), odm.FindOptions{})
	if err != nil {
		writeError(c, err)
		return
	}
	if err := applyPatch(doc, req); err != nil {
		writeError(c, err)
		return
	}
	if req.Version != nil {
		if key := doc.Schema().VersionKey; key != "" {
			doc.SetRaw(key, *req.Version)
		}
		req.Increment = true
	}
	if req.Increment {
		m.Increment(doc)
	}
	if err := m.Save(ctx, doc); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Render(doc))
}

// applyPatch replays req on doc in a fixed order: set, unset, push,
// addToSet, pull.
func applyPatch(doc *document.Document, req PatchRequest) error {
	for _, p := range sortedKeys(req.Set) {
		if err := doc.Set(p, req.Set[p]); err != nil {
			return err
		}
	}
	for _, p := range req.Unset {
		doc.Unset(p)
	}
	for _, p := range sortedKeys(req.Push) {
		if err := doc.Push(p, req.Push[p]...); err != nil {
			return err
		}
	}
	for _, p := range sortedKeys(req.AddToSet) {
		if err := doc.AddToSet(p, req.AddToSet[p]...); err != nil {
			return err
		}
	}
	for _, p := range sortedKeys(req.Pull) {
		if err := doc.Pull(p, req.Pull[p]...); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) remove(c *gin.Context) {
	m, ok := h.model(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	doc, err := m.FindByID(ctx, c.Param("id"), odm.FindOptions{})
	if err == nil {
		err = m.Remove(ctx, doc)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	var (
		castErr     *schema.CastError
		divergent   *delta.DivergentArrayError
		versionErr  *odm.VersionError
		notFoundErr *odm.DocumentNotFoundError
		paramErr    *paramError
	)
	switch {
	case errors.As(err, &versionErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "modifiedPaths": versionErr.ModifiedPaths})
	case errors.As(err, &castErr), errors.As(err, &divergent):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, odm.ErrNotFound), errors.Is(err, odm.ErrUnknownModel), errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &paramErr),
		errors.Is(err, populate.ErrMissingJoinFields),
		errors.Is(err, populate.ErrSortUnderDocArray),
		errors.Is(err, populate.ErrUnknownDiscriminator):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Errorf("api: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
