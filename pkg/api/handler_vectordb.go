package api

import (
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/nexops/kernelengine/pkg/embedding"
	"github.com/nexops/kernelengine/pkg/errs"
	"github.com/nexops/kernelengine/pkg/vectordb"
	"github.com/nexops/kernelengine/pkg/vectorindex"
)

func (s *Server) listIndicesHandler(c *echo.Context) error {
	records := s.vectordb.ListIndices(namespaceOf(c))
	out := make([]vectorIndexSummary, len(records))
	for i, r := range records {
		out[i] = toVectorIndexSummary(r)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createIndexHandler(c *echo.Context) error {
	var req createIndexRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	ns := req.Namespace
	if ns == "" {
		ns = namespaceOf(c)
	}
	providerName := req.EmbeddingProvider
	if providerName == "" {
		providerName = req.EmbeddingModel
	}

	id, isFromOffload, err := s.vectordb.CreateIndex(c.Request().Context(), vectordb.CreateOptions{
		ID:           req.ID,
		Namespace:    ns,
		ProviderName: providerName,
		Permission:   req.Permission,
		Resume:       req.Resume,
	})
	if err != nil {
		return mapErr(err)
	}
	if req.InactivityTimeout > 0 {
		_ = s.vectordb.SetInactivityTimeout(ns, id.String(), time.Duration(req.InactivityTimeout)*time.Millisecond)
	}
	summary := vectorIndexSummary{ID: id.String(), ProviderName: providerName, Permission: req.Permission, IsFromOffload: isFromOffload}
	for _, r := range s.vectordb.ListIndices(ns) {
		if r.ID.String() == id.String() {
			summary = toVectorIndexSummary(r)
			summary.IsFromOffload = isFromOffload
			break
		}
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) addDocumentsHandler(c *echo.Context) error {
	var req addDocumentsRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	inputs := make([]vectorindex.AddInput, len(req.Documents))
	for i, d := range req.Documents {
		inputs[i] = vectorindex.AddInput{ID: d.ID, Text: d.Text, Vector: d.Vector, Metadata: d.Metadata}
	}
	if err := s.vectordb.AddDocuments(c.Request().Context(), namespaceOf(c), c.Param("id"), inputs); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, documentCountResponse{DocumentCount: len(inputs)})
}

func (s *Server) removeDocumentsHandler(c *echo.Context) error {
	var req removeDocumentsRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	if err := s.vectordb.RemoveDocuments(c.Request().Context(), namespaceOf(c), c.Param("id"), req.DocumentIDs); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, documentCountResponse{DocumentCount: len(req.DocumentIDs)})
}

func (s *Server) queryIndexHandler(c *echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	k := req.K
	if k <= 0 {
		k = 10
	}
	results, err := s.vectordb.QueryIndex(c.Request().Context(), namespaceOf(c), c.Param("id"), req.Query, req.Vector, vectordb.QueryOptions{
		K: k, Threshold: req.Threshold, IncludeMetadata: req.IncludeMetadata, IncludeText: req.IncludeText,
	})
	if err != nil {
		return mapErr(err)
	}
	out := make([]queryResultDTO, len(results))
	for i, r := range results {
		out[i] = queryResultDTO{ID: r.ID, Score: r.Score, Metadata: r.Metadata, Text: r.Text}
	}
	return c.JSON(http.StatusOK, queryResponse{Results: out, Count: len(out), Query: req.Query})
}

func (s *Server) pingIndexHandler(c *echo.Context) error {
	if err := s.vectordb.PingInstance(namespaceOf(c), c.Param("id")); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, ok("pinged"))
}

func (s *Server) setTimeoutHandler(c *echo.Context) error {
	var req timeoutRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	if err := s.vectordb.SetInactivityTimeout(namespaceOf(c), c.Param("id"), time.Duration(req.InactivityTimeout)*time.Millisecond); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, ok("timeout updated"))
}

func (s *Server) offloadIndexHandler(c *echo.Context) error {
	if err := s.vectordb.ManualOffload(c.Request().Context(), namespaceOf(c), c.Param("id")); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, ok("offloaded"))
}

func (s *Server) indexInfoHandler(c *echo.Context) error {
	records := s.vectordb.ListIndices(namespaceOf(c))
	id := c.Param("id")
	for _, r := range records {
		if r.ID.String() != id && r.ID.Local != id {
			continue
		}
		dim, count, offloaded := r.Info()
		return c.JSON(http.StatusOK, indexInfoResponse{
			vectorIndexSummary: toVectorIndexSummary(r),
			Dimension:          dim,
			Count:              count,
			Offloaded:          offloaded,
		})
	}
	return mapErr(errs.NotFound(id))
}

func (s *Server) changeProviderHandler(c *echo.Context) error {
	var req changeProviderRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	if err := s.vectordb.ChangeIndexEmbeddingProvider(namespaceOf(c), c.Param("id"), req.ProviderName); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, ok("provider changed"))
}

func (s *Server) destroyIndexHandler(c *echo.Context) error {
	if err := s.vectordb.DestroyIndex(c.Request().Context(), namespaceOf(c), c.Param("id")); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, struct{}{})
}

func (s *Server) listOffloadedHandler(c *echo.Context) error {
	ids, err := s.vectordb.ListOffloadedIndices(namespaceOf(c))
	if err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, ids)
}

func (s *Server) deleteOffloadedHandler(c *echo.Context) error {
	if err := s.vectordb.DeleteOffloadedIndex(c.Param("id")); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, struct{}{})
}

func (s *Server) listProvidersHandler(c *echo.Context) error {
	providers := s.embeddings.List()
	out := make([]providerDTO, len(providers))
	for i, p := range providers {
		out[i] = providerDTO{Name: p.Name(), Dimension: p.Dimension()}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createProviderHandler(c *echo.Context) error {
	var req createProviderRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	p, err := buildProvider(req)
	if err != nil {
		return mapErr(err)
	}
	if err := s.embeddings.Add(p); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, providerDTO{Name: p.Name(), Dimension: p.Dimension()})
}

func (s *Server) updateProviderHandler(c *echo.Context) error {
	var req createProviderRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	req.Name = c.Param("name")
	p, err := buildProvider(req)
	if err != nil {
		return mapErr(err)
	}
	if err := s.embeddings.Update(p); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, providerDTO{Name: p.Name(), Dimension: p.Dimension()})
}

func (s *Server) deleteProviderHandler(c *echo.Context) error {
	if err := s.embeddings.Remove(c.Param("name")); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, struct{}{})
}

func buildProvider(req createProviderRequest) (embedding.Provider, error) {
	switch req.Type {
	case "mock", "":
		return embedding.NewMock(req.Name, req.Dimension), nil
	case "remote":
		return embedding.NewRemote(req.Name, req.Model, req.BaseURL, req.Dimension), nil
	default:
		return nil, errs.InvalidArgument(fmt.Errorf("unknown embedding provider type %q", req.Type))
	}
}
