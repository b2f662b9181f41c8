// Package pipeline composes the security stages around an AI endpoint
// handler. Every request walks the same sequence: size check, rate limit,
// body parse, schema validation, injection check, handler execution under a
// cooperative timeout, and response enrichment. Any stage can short-circuit
// into a sanitized error response; raw internal errors never reach clients.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/promptgate/promptgate/internal/apierror"
	"github.com/promptgate/promptgate/internal/audit"
	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/internal/ratelimit"
	"github.com/promptgate/promptgate/internal/redact"
	"github.com/promptgate/promptgate/internal/sanitize"
	"github.com/promptgate/promptgate/internal/server"
	"github.com/promptgate/promptgate/internal/validate"
)

// SecurityContext is the ephemeral per-request identity. It exists for the
// duration of handling and is never persisted.
type SecurityContext struct {
	RequestID string
	ClientIP  string
	UserID    string
}

// Request is what a wrapped handler receives: the security context and the
// validated, sanitized body.
type Request struct {
	Security SecurityContext
	Body     *validate.Request
}

// Response is a handler's result. Stream takes precedence over Body when
// both are set; the pipeline never reads either before the handler returns.
// NoRedact opts this response out of output filtering, for endpoints whose
// payloads legitimately contain key-shaped text.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Stream   io.Reader
	NoRedact bool
}

// Handler is the caller-supplied endpoint logic. The context carries the
// stage deadline; handlers should honor ctx.Done() since the pipeline's
// timeout is cooperative, not preemptive.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// UserIDFunc extracts an authenticated user id from a request, or "" for
// anonymous callers. Authentication itself is outside the pipeline.
type UserIDFunc func(*http.Request) string

// Config assembles a pipeline from its collaborators.
type Config struct {
	Validator *validate.Validator
	Sanitizer *sanitize.Sanitizer
	Limiter   *ratelimit.Limiter
	Recorder  audit.Recorder  // optional
	Metrics   *metrics.Metrics // optional
	Logger    *slog.Logger

	// DefaultTimeout bounds HANDLER_EXEC; Timeouts overrides per modality.
	DefaultTimeout time.Duration
	Timeouts       map[validate.Modality]time.Duration

	// UserID enables the higher authenticated rate-limit tier.
	UserID UserIDFunc

	// FilterOutput runs the redaction filter over textual response bodies
	// and wraps streams. Enabled by default in New.
	FilterOutput bool
}

// Pipeline wraps handlers with the full security stage sequence.
type Pipeline struct {
	cfg Config
}

// New creates a pipeline. Validator, Sanitizer, and Limiter are required.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Validator == nil || cfg.Sanitizer == nil || cfg.Limiter == nil {
		return nil, fmt.Errorf("pipeline requires a validator, sanitizer, and limiter")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &Pipeline{cfg: cfg}, nil
}

func (p *Pipeline) timeoutFor(modality validate.Modality) time.Duration {
	if t, ok := p.cfg.Timeouts[modality]; ok && t > 0 {
		return t
	}
	return p.cfg.DefaultTimeout
}

// handlerResult carries the handler's outcome across the timeout race.
type handlerResult struct {
	resp *Response
	err  error
}

// Wrap returns an http.HandlerFunc running the full stage sequence around
// the given handler for one modality.
func (p *Pipeline) Wrap(modality validate.Modality, handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		requestID := server.RequestID(ctx)
		if w.Header().Get("X-Request-ID") == "" {
			w.Header().Set("X-Request-ID", requestID)
		}

		sec := SecurityContext{
			RequestID: requestID,
			ClientIP:  ratelimit.ClientIP(r),
		}
		if p.cfg.UserID != nil {
			sec.UserID = p.cfg.UserID(r)
		}

		// The top-level funnel: every failure path, including panics in the
		// handler goroutine's result processing, ends in a sanitized body.
		defer func() {
			if rec := recover(); rec != nil {
				apiErr := apierror.ErrInternal(fmt.Errorf("panic: %v", rec))
				p.cfg.Logger.Error("pipeline panic",
					slog.String("request_id", requestID),
					slog.Any("panic", rec))
				p.finish(w, modality, sec, apiErr, start)
			}
		}()

		// SIZE_CHECK: reject on the declared length before reading anything.
		maxBody := p.cfg.Validator.Limits().MaxBodyBytes
		if r.ContentLength > maxBody {
			p.record(ctx, sec, modality, "size_check", audit.OutcomeRejected, nil,
				fmt.Sprintf("declared %d bytes", r.ContentLength))
			p.finish(w, modality, sec, apierror.ErrRequestTooLarge(), start)
			return
		}

		// RATE_LIMIT: before the body is parsed or the handler invoked.
		actor := ratelimit.ActorFor(sec.ClientIP, sec.UserID)
		limit := p.cfg.Limiter.Check(ctx, actor, modality)
		setRateHeaders(w, limit)
		if !limit.Allowed {
			server.AddLogField(ctx, "rate_limited", string(actor.Kind))
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.ObserveRateLimited(string(modality), string(actor.Kind))
			}
			p.record(ctx, sec, modality, "rate_limit", audit.OutcomeDenied, nil, "")
			p.finish(w, modality, sec, apierror.ErrRateLimited(limit.RetryAfter), start)
			return
		}

		// PARSE_BODY: bounded read; an undeclared oversized body is caught here.
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil {
			p.finish(w, modality, sec,
				apierror.ErrInvalidRequest("request body could not be read").WithCause(err), start)
			return
		}
		if int64(len(body)) > maxBody {
			p.record(ctx, sec, modality, "size_check", audit.OutcomeRejected, nil, "undeclared length")
			p.finish(w, modality, sec, apierror.ErrRequestTooLarge(), start)
			return
		}

		// SCHEMA_VALIDATE: parse + fail-fast schema check.
		validated, err := p.cfg.Validator.Validate(modality, body)
		if err != nil {
			p.finish(w, modality, sec, apierror.Sanitize(err), start)
			return
		}

		// INJECTION_CHECK on the modality's primary free-text field. Flags
		// are logged whether or not the request is blocked.
		scan := p.cfg.Sanitizer.Sanitize(validated.PrimaryText())
		if len(scan.Flags) > 0 {
			server.AddLogField(ctx, "sanitizer_flags", strings.Join(scan.Flags, ","))
		}
		if scan.Blocked {
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.ObserveBlocked(string(modality), scan.Flags[0])
			}
			p.record(ctx, sec, modality, "injection_check", audit.OutcomeBlocked, scan.Flags, "")
			// The response never reveals which pattern matched.
			p.finish(w, modality, sec, apierror.ErrContentBlocked(), start)
			return
		}
		validated.SetPrimaryText(scan.Sanitized)

		// HANDLER_EXEC: race the handler against the stage timer. The loser
		// keeps running but its result is discarded; the handler never holds
		// the ResponseWriter, so an abandoned one cannot touch the client.
		timeout := p.timeoutFor(modality)
		handlerCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		done := make(chan handlerResult, 1)
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					done <- handlerResult{err: fmt.Errorf("handler panic: %v", rec)}
				}
			}()
			resp, err := handler(handlerCtx, &Request{Security: sec, Body: validated})
			done <- handlerResult{resp: resp, err: err}
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		var result handlerResult
		select {
		case result = <-done:
		case <-timer.C:
			p.record(ctx, sec, modality, "handler", audit.OutcomeTimeout, nil,
				timeout.String())
			p.finish(w, modality, sec, apierror.ErrTimeout(), start)
			return
		}

		if result.err != nil {
			apiErr := apierror.Sanitize(result.err)
			p.cfg.Logger.Error("handler failed",
				slog.String("request_id", requestID),
				slog.String("modality", string(modality)),
				slog.String("code", string(apiErr.Code)),
				slog.String("error", result.err.Error()))
			p.record(ctx, sec, modality, "handler", audit.OutcomeError, nil, string(apiErr.Code))
			p.finish(w, modality, sec, apiErr, start)
			return
		}
		if result.resp == nil {
			p.finish(w, modality, sec,
				apierror.ErrInternal(fmt.Errorf("handler returned no response")), start)
			return
		}

		// RESPONSE_ENRICH: headers, optional output redaction, then the body.
		p.writeResponse(ctx, w, sec, modality, result.resp)
		p.observe(modality, "ok", start)
	}
}

// finish writes a sanitized error response and records metrics. The full
// internal cause stays in the logs, keyed by request id.
func (p *Pipeline) finish(w http.ResponseWriter, modality validate.Modality,
	sec SecurityContext, apiErr *apierror.Error, start time.Time) {
	if cause := apiErr.Unwrap(); cause != nil {
		p.cfg.Logger.Warn("request failed",
			slog.String("request_id", sec.RequestID),
			slog.String("code", string(apiErr.Code)),
			slog.String("cause", cause.Error()))
	}
	writeError(w, sec.RequestID, apiErr)
	p.observe(modality, string(apiErr.Code), start)
}

func (p *Pipeline) observe(modality validate.Modality, outcome string, start time.Time) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.ObserveRequest(string(modality), outcome, time.Since(start).Seconds())
	}
}

func (p *Pipeline) record(ctx context.Context, sec SecurityContext,
	modality validate.Modality, stage string, outcome audit.Outcome, flags []string, detail string) {
	if p.cfg.Recorder == nil {
		return
	}
	actor := ratelimit.ActorFor(sec.ClientIP, sec.UserID)
	ev := audit.Event{
		RequestID: sec.RequestID,
		Time:      time.Now().UTC(),
		Modality:  string(modality),
		Stage:     stage,
		Outcome:   outcome,
		ActorKind: string(actor.Kind),
		ActorID:   actor.ID,
		Flags:     flags,
		Detail:    detail,
	}
	if err := p.cfg.Recorder.Record(ctx, ev); err != nil {
		p.cfg.Logger.Error("audit record failed",
			slog.String("request_id", sec.RequestID),
			slog.String("error", err.Error()))
	}
}

// writeResponse copies the handler's headers and body onto the wire,
// applying output redaction to textual content when enabled.
func (p *Pipeline) writeResponse(ctx context.Context, w http.ResponseWriter,
	sec SecurityContext, modality validate.Modality, resp *Response) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	filter := p.cfg.FilterOutput && !resp.NoRedact

	if resp.Stream != nil {
		w.WriteHeader(status)
		p.copyStream(ctx, w, sec, modality, resp.Stream, filter)
		return
	}

	body := resp.Body
	if filter && isText(w.Header().Get("Content-Type")) {
		body = []byte(redact.Filter(string(body)))
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// copyStream forwards a streamed body chunk by chunk through the
// per-chunk redaction heuristic, flushing as data arrives. The per-chunk
// check cannot catch a secret split across chunk boundaries, so the full
// rule set runs over the emitted text once the stream completes; a match
// there has already reached the client and is logged and audited.
func (p *Pipeline) copyStream(ctx context.Context, w http.ResponseWriter,
	sec SecurityContext, modality validate.Modality, stream io.Reader, filterOutput bool) {
	flusher, _ := w.(http.Flusher)
	filter := redact.NewStreamFilter()
	buf := make([]byte, 4096)

	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			if filterOutput {
				chunk = filter.Scan(chunk)
			}
			if _, werr := io.WriteString(w, chunk); werr != nil {
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			break
		}
	}

	if filterOutput && filter.Leaked() {
		p.cfg.Logger.Error("streamed response emitted sensitive content",
			slog.String("request_id", sec.RequestID),
			slog.String("modality", string(modality)))
		p.record(ctx, sec, modality, "output_filter", audit.OutcomeError, nil,
			"secret emitted across stream chunks")
	}
}

func setRateHeaders(w http.ResponseWriter, limit ratelimit.Result) {
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", limit.Remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", limit.ResetIn))
}

func isText(contentType string) bool {
	if contentType == "" {
		return true
	}
	return strings.HasPrefix(contentType, "application/json") ||
		strings.HasPrefix(contentType, "text/")
}
