package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"clinical-chat-gateway/internal/audit"
	"clinical-chat-gateway/internal/conversation"
	"clinical-chat-gateway/internal/logger"
	"clinical-chat-gateway/internal/prompt"
	"clinical-chat-gateway/internal/redaction"
	"clinical-chat-gateway/internal/triage"
	"clinical-chat-gateway/internal/upstream"
)

type chatOptions struct {
	Persona   string `json:"persona"`
	Empathy   string `json:"empathy"`
	SaveHipaa bool   `json:"saveHipaa"`
}

type chatRequest struct {
	Messages json.RawMessage `json:"messages"`
	Options  *chatOptions    `json:"options"`
}

// errBadRequest marks a body that fails validation.
type errBadRequest struct{ msg string }

func (e errBadRequest) Error() string { return e.msg }

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.metrics.RequestsTotal.Add(1)
	log := s.reqLog(r)

	msgs, opts, err := s.decode(w, r)
	if err != nil {
		s.metrics.RequestsRejected.Add(1)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warnf("reject", "body exceeds %d bytes", tooLarge.Limit)
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
			return
		}
		log.Warnf("reject", "%v", err)
		s.writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if d := s.gate.Evaluate(msgs); d.Escalated() {
		s.escalate(w, r, log, msgs, opts, d)
		return
	}

	apiKey := s.cfg.APIKey(s.getenv)
	if apiKey == "" {
		s.metrics.ErrorsConfig.Add(1)
		log.Errorf("config", "%s is not set", s.cfg.APIKeyEnv)
		s.writeError(w, http.StatusInternalServerError, upstream.ErrMissingAPIKey.Error(), debug.Stack())
		return
	}

	conv := s.scrub(r.Context(), log, msgs)
	if conv.Degraded() {
		w.Header().Set("X-Redaction-Degraded", "true")
	}

	persona, empathy := s.selectPrompt(log, opts)
	model := s.cfg.Model(s.getenv)

	start := time.Now()
	stream, err := s.forwarder.Forward(r.Context(), upstream.Request{
		APIKey:       apiKey,
		Model:        model,
		SystemPrompt: prompt.Compose(persona, empathy),
		Conversation: conv,
	})
	s.metrics.RecordUpstreamLatency(time.Since(start))
	if err != nil {
		s.forwardFailed(w, r, log, err)
		return
	}
	defer stream.Close() //nolint:errcheck // best-effort close on HTTP response body

	s.metrics.RequestsForwarded.Add(1)
	log.Infof("forward", "model=%s messages=%d redactions=%d", model, conv.Len(), conv.Counts.Total())

	if opts.SaveHipaa {
		s.recordAsync(r.Context(), log, conv, audit.Meta{
			Persona: string(persona),
			Empathy: string(empathy),
		})
	}

	n, err := relay(w, stream.Body)
	switch {
	case err != nil && r.Context().Err() != nil:
		log.Infof("relay", "client went away after %d bytes", n)
	case err != nil:
		log.Warnf("relay", "stream ended after %d bytes: %v", n, err)
	default:
		log.Debugf("relay", "stream complete, %d bytes", n)
	}
}

// decode reads and validates the request body.
func (s *Server) decode(w http.ResponseWriter, r *http.Request) ([]conversation.Message, chatOptions, error) {
	var opts chatOptions
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return nil, opts, err
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, opts, errBadRequest{"request body must be a JSON object"}
	}
	raw := bytes.TrimSpace(req.Messages)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, opts, errBadRequest{"messages must be an array"}
	}
	var msgs []conversation.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, opts, errBadRequest{"messages must be an array of {role, content} objects"}
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, opts, errBadRequest{fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role)}
		}
	}
	if req.Options != nil {
		opts = *req.Options
	}
	return msgs, opts, nil
}

func (s *Server) escalate(w http.ResponseWriter, r *http.Request, log *logger.Logger, msgs []conversation.Message, opts chatOptions, d triage.Decision) {
	s.metrics.RequestsEscalated.Add(1)
	log.Warnf("escalate", "red flags: %v", d.Flags)

	if opts.SaveHipaa && s.recorder != nil {
		conv := s.scrub(r.Context(), log, msgs)
		persona, empathy := s.selectPrompt(log, opts)
		s.record(r.Context(), log, conv, audit.Meta{
			Persona:   string(persona),
			Empathy:   string(empathy),
			Escalated: true,
			RedFlags:  d.Flags,
		})
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, d.Message)
}

func (s *Server) scrub(ctx context.Context, log *logger.Logger, msgs []conversation.Message) redaction.Scrubbed {
	start := time.Now()
	conv := s.scrubber.ScrubConversation(ctx, msgs)
	s.metrics.RecordScrubLatency(time.Since(start))
	for tok, n := range conv.Counts {
		s.metrics.RecordRedactions(string(tok), n)
	}
	if conv.Degraded() {
		s.metrics.DegradedScrubs.Add(1)
		for _, w := range conv.Warnings {
			log.Warnf("scrub_degraded", "%s", w)
		}
	}
	return conv
}

func (s *Server) selectPrompt(log *logger.Logger, opts chatOptions) (prompt.Persona, prompt.Empathy) {
	persona, ok := prompt.ParsePersona(opts.Persona)
	if !ok && opts.Persona != "" {
		log.Debugf("prompt", "unknown persona %q, using %s", opts.Persona, persona)
	}
	empathy, ok := prompt.ParseEmpathy(opts.Empathy)
	if !ok && opts.Empathy != "" {
		log.Debugf("prompt", "unknown empathy %q, using %s", opts.Empathy, empathy)
	}
	return persona, empathy
}

func (s *Server) forwardFailed(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	var pe *upstream.ProviderError
	switch {
	case errors.As(err, &pe):
		s.metrics.ErrorsUpstream.Add(1)
		log.Warnf("forward", "provider returned %d", pe.Status)
		s.writeError(w, http.StatusInternalServerError, pe.Error(), nil)
	case errors.Is(err, upstream.ErrMissingAPIKey):
		s.metrics.ErrorsConfig.Add(1)
		s.writeError(w, http.StatusInternalServerError, err.Error(), debug.Stack())
	case r.Context().Err() != nil:
		log.Infof("forward", "client went away before upstream answered")
	default:
		s.metrics.ErrorsUpstream.Add(1)
		log.Errorf("forward", "%v", err)
		pe = &upstream.ProviderError{Status: http.StatusBadGateway, Detail: err.Error()}
		s.writeError(w, http.StatusInternalServerError, pe.Error(), nil)
	}
}

// record stores conv synchronously. Failures are logged and counted only.
func (s *Server) record(ctx context.Context, log *logger.Logger, conv redaction.Scrubbed, meta audit.Meta) {
	e, err := s.recorder.Record(ctx, conv, meta)
	if err != nil {
		s.metrics.AuditFailures.Add(1)
		log.Errorf("audit", "%v", err)
		return
	}
	s.metrics.AuditRecords.Add(1)
	log.Infof("audit", "saved record %s", e.ID)
}

// recordAsync stores conv without holding up the response stream. The write
// outlives the request context; Drain waits for it.
func (s *Server) recordAsync(ctx context.Context, log *logger.Logger, conv redaction.Scrubbed, meta audit.Meta) {
	if s.recorder == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.audits.Add(1)
	go func() {
		defer s.audits.Done()
		s.record(ctx, log, conv, meta)
	}()
}

// relay copies body to w, flushing after every chunk so events reach the
// caller as they arrive.
func relay(w http.ResponseWriter, body io.Reader) (int64, error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	buf := make([]byte, 32<<10)
	var total int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return total, ferr
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
	Stack string `json:"stack,omitempty"`
}

// writeError sends a JSON error. stack is included only with debugErrors.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string, stack []byte) {
	body := errorBody{Error: msg}
	if s.cfg.DebugErrors && stack != nil {
		body.Stack = string(stack)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) reqLog(r *http.Request) *logger.Logger {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return s.log.WithRequest(id)
	}
	return s.log
}
