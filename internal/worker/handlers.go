package worker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleek-network/latency-measure/internal/logging"
	"github.com/fleek-network/latency-measure/internal/measure"
)

func (s *Server) handleTTFB(w http.ResponseWriter, r *http.Request) {
	var req measure.MeasureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, measure.NewBadRequest(err))
		return
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, measure.NewBadRequest(errors.New("target is required")))
		return
	}

	s.logger.WithFields(logrus.Fields{
		"target": req.Target,
		"remote": r.RemoteAddr,
	}).Info("Measuring ttfb")

	sample, err := s.pool.Submit(r.Context(), req.Target)
	if err != nil {
		writeMeasureError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sample)
}

func (s *Server) handleDuration(w http.ResponseWriter, r *http.Request) {
	var req measure.DurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, measure.NewBadRequest(err))
		return
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, measure.NewBadRequest(errors.New("target is required")))
		return
	}

	s.logger.WithFields(logrus.Fields{
		"target": req.Target,
		"method": req.Method,
		"remote": r.RemoteAddr,
	}).Info("Measuring duration")

	sample, err := s.measureDuration(r, req)
	if err != nil {
		writeMeasureError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sample)
}

// measureDuration times a full exchange against the target: from immediately
// before send to full receipt of the response body.
func (s *Server) measureDuration(r *http.Request, req measure.DurationRequest) (measure.Response, error) {
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	out, err := http.NewRequestWithContext(r.Context(), measure.NormalizeMethod(req.Method), req.Target, body)
	if err != nil {
		return measure.Response{}, measure.NewNetworkError(err)
	}
	for key, value := range req.Headers {
		out.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := s.client.Do(out)
	if err != nil {
		return measure.Response{}, measure.NewNetworkError(err)
	}
	_, copyErr := io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start)
	resp.Body.Close()

	if copyErr != nil {
		return measure.Response{}, measure.NewNetworkError(copyErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return measure.Response{}, measure.NewHTTPStatusError(resp.StatusCode)
	}

	return measure.Response{Overall: &elapsed}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeMeasureError(w http.ResponseWriter, err error) {
	var me *measure.Error
	if !errors.As(err, &me) {
		me = &measure.Error{Code: measure.CodeNetwork, Message: err.Error()}
	}
	writeError(w, http.StatusInternalServerError, me)
}

func writeError(w http.ResponseWriter, status int, e *measure.Error) {
	writeJSON(w, status, e)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.GetLogger().WithError(err).Warn("Failed to encode response body")
	}
}
