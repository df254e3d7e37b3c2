package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	platformerrors "github.com/jmgilman/go/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/OrlandoBitencourt/whydah/internal/domain"
)

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Services())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("whydah.service", service))

	cfg, generation, ok := s.cache.Lookup(service)
	if !ok {
		fail(w, r, domain.NewNotFoundError("service", service))
		return
	}

	if expression := r.URL.Query().Get("filter"); expression != "" {
		filtered, err := s.filter.Apply(expression, cfg)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, filtered)
		return
	}

	body, err := s.renderConfig(generation, service, cfg)
	if err != nil {
		fail(w, r, platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to encode config"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// renderConfig encodes cfg, reusing the encoding from an earlier read of
// the same generation when one is cached.
func (s *Server) renderConfig(generation uint64, service string, cfg domain.ServiceConfig) ([]byte, error) {
	if s.render != nil {
		if body, ok := s.render.Get(generation, service); ok {
			return body, nil
		}
	}

	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	body = append(body, '\n')

	if s.render != nil {
		s.render.Set(generation, service, body)
	}
	return body, nil
}

func (s *Server) handleUpdateValue(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, domain.PropertyValue)
}

func (s *Server) handleUpdateProperty(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, r.PathValue("property"))
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, property string) {
	service := r.PathValue("service")
	setting := r.PathValue("setting")

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("whydah.service", service),
		attribute.String("whydah.setting", setting),
		attribute.String("whydah.property", property),
	)

	value, err := s.decodeValue(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}

	if !domain.IsValidProperty(property) {
		err := domain.NewValidationError(fmt.Sprintf("invalid property %q, expected one of %s",
			property, strings.Join(domain.RequiredProperties, ", ")))
		fail(w, r, err)
		return
	}

	if !s.cache.UpdateConfig(service, setting, property, value) {
		err := platformerrors.Newf(platformerrors.CodeNotFound, "failed to update '%s' for '%s'", setting, service)
		fail(w, r, platformerrors.WithContextMap(err, map[string]interface{}{
			"service": service,
			"setting": setting,
		}))
		return
	}

	s.logger.Info("setting updated in memory",
		"service", service, "setting", setting, "property", property)

	writeStatus(w, fmt.Sprintf("Updated '%s' for '%s'", setting, service))
}

// decodeValue reads {"value": "..."} and enforces the value rules: a string,
// not blank, at most MaxValueLength characters.
func (s *Server) decodeValue(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", domain.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", s.maxBodyBytes))
		}
		if errors.Is(err, io.EOF) {
			return "", domain.NewValidationError("request body is empty")
		}
		return "", domain.NewValidationError("request body must be a JSON object")
	}

	raw, ok := body["value"]
	if !ok || string(raw) == "null" {
		return "", domain.NewValidationError("missing 'value' in the request body")
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", domain.NewValidationError("invalid value, expected a non-empty string")
	}
	if strings.TrimSpace(value) == "" {
		return "", domain.NewValidationError("invalid value, expected a non-empty string")
	}
	if utf8.RuneCountInString(value) > domain.MaxValueLength {
		return "", domain.NewValidationError(fmt.Sprintf("maximum length of value is %d characters", domain.MaxValueLength))
	}

	return value, nil
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.RefreshConfigs(r.Context()); err != nil {
		// Any refresh failure, access errors included, is a server-side failure
		writeError(w, r, http.StatusInternalServerError,
			platformerrors.Wrap(err, platformerrors.GetCode(err), "failed to refresh configurations"))
		return
	}

	writeStatus(w, "Configurations refreshed")
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	err := platformerrors.Newf(platformerrors.CodeNotFound, "no route for %s %s", r.Method, r.URL.Path)
	writeError(w, r, http.StatusNotFound, err)
}
