package server

import (
	"net/http"

	"github.com/google/go-github/v67/github"
	platformerrors "github.com/jmgilman/go/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type webhookResponse struct {
	Status string `json:"status"`
	Event  string `json:"event,omitempty"`
}

// handleWebhook accepts GitHub webhook deliveries. Pushes refresh the cache,
// pings are answered and every other event is acknowledged and ignored.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.webhookMaxBody)

	var secret []byte
	if s.webhookSecret != "" {
		secret = []byte(s.webhookSecret)
	}

	payload, err := github.ValidatePayload(r, secret)
	if err != nil {
		status := http.StatusBadRequest
		code := platformerrors.CodeInvalidInput
		if secret != nil {
			status = http.StatusUnauthorized
			code = platformerrors.CodeUnauthorized
		}
		writeError(w, r, status, platformerrors.Wrap(err, code, "webhook payload rejected"))
		return
	}

	eventType := github.WebHookType(r)
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("github.event", eventType),
		attribute.String("github.delivery", github.DeliveryID(r)),
	)

	switch eventType {
	case "ping":
		writeJSON(w, http.StatusOK, webhookResponse{Status: "pong", Event: eventType})

	case "push":
		event, err := github.ParseWebHook(eventType, payload)
		if err != nil {
			writeError(w, r, http.StatusBadRequest,
				platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "invalid push payload"))
			return
		}
		push, ok := event.(*github.PushEvent)
		if !ok {
			writeError(w, r, http.StatusBadRequest,
				platformerrors.Newf(platformerrors.CodeInvalidInput, "unexpected payload type %T", event))
			return
		}
		s.handlePush(w, r, push)

	default:
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored", Event: eventType})
	}
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request, push *github.PushEvent) {
	if s.webhookBranch != "" && push.GetRef() != "refs/heads/"+s.webhookBranch {
		s.logger.Debug("ignoring push to untracked ref", "ref", push.GetRef())
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored", Event: "push"})
		return
	}

	s.logger.Info("push received, refreshing configs", "ref", push.GetRef(), "after", push.GetAfter())
	if err := s.cache.RefreshConfigs(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError,
			platformerrors.Wrap(err, platformerrors.GetCode(err), "failed to refresh configurations"))
		return
	}

	writeStatus(w, "Configurations refreshed")
}
