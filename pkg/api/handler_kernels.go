package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/nexops/kernelengine/pkg/errs"
	"github.com/nexops/kernelengine/pkg/executor"
	"github.com/nexops/kernelengine/pkg/kernel"
)

func (s *Server) listKernelsHandler(c *echo.Context) error {
	ns := namespaceOf(c)
	records := s.kernels.ListKernels(ns)
	out := make([]kernelSummary, len(records))
	for i, r := range records {
		out[i] = toKernelSummary(r)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createKernelHandler(c *echo.Context) error {
	var req createKernelRequest
	if err := c.Bind(&req); err != nil {
		return mapErr(errs.InvalidArgument(err))
	}
	mode := executor.Mode(req.Mode)
	lang := executor.Language(req.Lang)

	id, err := s.kernels.CreateKernel(c.Request().Context(), kernel.CreateOptions{
		ID: req.ID, Namespace: namespaceOf(c), Mode: mode, Language: lang,
	})
	if err != nil {
		return mapErr(err)
	}
	r, err := s.kernels.GetKernel(namespaceOf(c), id.String())
	if err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, toKernelSummary(r))
}

func (s *Server) destroyKernelHandler(c *echo.Context) error {
	if err := s.kernels.DestroyKernel(c.Request().Context(), namespaceOf(c), c.Param("id")); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, struct{}{})
}

func (s *Server) kernelInfoHandler(c *echo.Context) error {
	r, hist, err := s.kernels.GetInfo(namespaceOf(c), c.Param("id"))
	if err != nil {
		return mapErr(err)
	}
	dtoHist := make([]historyEntryDTO, len(hist))
	for i, h := range hist {
		events := make([]eventDTO, len(h.Outputs))
		for j, ev := range h.Outputs {
			events[j] = toEventDTO(ev)
		}
		dtoHist[i] = historyEntryDTO{SessionID: h.SessionID, Code: h.Code, Outputs: events}
	}
	return c.JSON(http.StatusOK, kernelInfoResponse{kernelSummary: toKernelSummary(r), History: dtoHist})
}

// executeStreamHandler implements the synchronous streaming execute route:
// one ndjson line per event, starting with stream_start and ending with the
// session's terminator (stream_complete, or execute_error on failure) (§6).
func (s *Server) executeStreamHandler(c *echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return mapErr(errs.InvalidArgument(fmt.Errorf("missing code")))
	}
	ns := namespaceOf(c)
	sess, err := s.kernels.ExecuteStream(c.Request().Context(), ns, c.Param("id"), req.Code)
	if err != nil {
		return mapErr(err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.WriteHeader(http.StatusOK)
	flusher, _ := resp.Writer.(http.Flusher)
	enc := json.NewEncoder(resp)

	l := sess.Subscribe()
	defer sess.Unsubscribe(l)
	for ev := range *l {
		if err := enc.Encode(toEventDTO(ev)); err != nil {
			return nil
		}
		if flusher != nil {
			flusher.Flush()
		}
		if ev.IsTerminator() {
			break
		}
	}
	return nil
}

type submitResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) executeSubmitHandler(c *echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return mapErr(errs.InvalidArgument(fmt.Errorf("missing code")))
	}
	sess, err := s.kernels.ExecuteStream(c.Request().Context(), namespaceOf(c), c.Param("id"), req.Code)
	if err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, submitResponse{SessionID: sess.ID})
}

func (s *Server) executeResultHandler(c *echo.Context) error {
	sess, ok := s.sessions.Get(c.Param("sid"))
	if !ok {
		return mapErr(errs.NotFound(c.Param("sid")))
	}
	l := sess.Subscribe()
	defer sess.Unsubscribe(l)

	var out []eventDTO
	for ev := range *l {
		out = append(out, toEventDTO(ev))
		if ev.IsTerminator() {
			break
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) executeSSEHandler(c *echo.Context) error {
	sess, ok := s.sessions.Get(c.Param("sid"))
	if !ok {
		return mapErr(errs.NotFound(c.Param("sid")))
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, _ := resp.Writer.(http.Flusher)
	w := bufio.NewWriter(resp)

	l := sess.Subscribe()
	defer sess.Unsubscribe(l)
	for ev := range *l {
		data, err := json.Marshal(toEventDTO(ev))
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		w.Flush()
		if flusher != nil {
			flusher.Flush()
		}
		if ev.IsTerminator() {
			break
		}
	}
	return nil
}

func (s *Server) pingKernelHandler(c *echo.Context) error {
	if err := s.kernels.PingKernel(namespaceOf(c), c.Param("id")); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, ok("pinged"))
}

func (s *Server) restartKernelHandler(c *echo.Context) error {
	if err := s.kernels.RestartKernel(c.Request().Context(), namespaceOf(c), c.Param("id")); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, ok("restarted"))
}

func (s *Server) interruptKernelHandler(c *echo.Context) error {
	if err := s.kernels.InterruptKernel(c.Request().Context(), namespaceOf(c), c.Param("id")); err != nil {
		return mapErr(err)
	}
	return c.JSON(http.StatusOK, ok("interrupted"))
}
