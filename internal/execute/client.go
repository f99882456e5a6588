package execute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"codesync/internal/metrics"
	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

// Languages accepted by Execute, keyed by the name the editor sends.
var languages = map[string]string{
	"c++":        "c++",
	"cpp":        "c++",
	"c":          "c",
	"java":       "java",
	"python":     "python",
	"py":         "python",
	"javascript": "javascript",
	"js":         "javascript",
}

const maxResponseBytes = 4 << 20

// Stage is one phase (compile or run) of an upstream execution.
type Stage struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Output string  `json:"output"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

// Result is what the editor receives after running code.
type Result struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Output   string `json:"output"`
	Run      Stage  `json:"run"`
	Compile  *Stage `json:"compile,omitempty"`
}

// Failed reports whether compilation or the run exited non-zero.
func (r *Result) Failed() bool {
	if r.Compile != nil && r.Compile.Code != nil && *r.Compile.Code != 0 {
		return true
	}
	return r.Run.Code != nil && *r.Run.Code != 0
}

type pistonFile struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
}

type pistonResponse struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Run      *Stage `json:"run"`
	Compile  *Stage `json:"compile"`
	Message  string `json:"message"`
}

// Options configures a Client.
type Options struct {
	Endpoint string
	Timeout  time.Duration
	// Versions pins a runtime version per language; missing entries use "*".
	Versions map[string]string
	Journal  interfaces.Journal
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Client forwards code to a Piston-compatible execution API. It keeps no
// state between calls and has no knowledge of rooms.
type Client struct {
	endpoint string
	http     *http.Client
	versions map[string]string
	journal  interfaces.Journal
	metrics  *metrics.Metrics
	log      *slog.Logger
	tracer   trace.Tracer
}

func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	versions := make(map[string]string, len(opts.Versions))
	for lang, version := range opts.Versions {
		versions[lang] = version
	}
	return &Client{
		endpoint: opts.Endpoint,
		http:     &http.Client{Timeout: opts.Timeout},
		versions: versions,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		log:      log,
		tracer:   otel.Tracer("codesync/execute"),
	}
}

// Supported reports whether language can be executed.
func Supported(language string) bool {
	_, ok := languages[strings.ToLower(strings.TrimSpace(language))]
	return ok
}

// Execute runs code in language on the upstream service.
func (c *Client) Execute(ctx context.Context, code, language string) (*Result, error) {
	lang, ok := languages[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	if strings.TrimSpace(code) == "" {
		return nil, ErrEmptyCode
	}

	ctx, span := c.tracer.Start(ctx, "execute.run", trace.WithAttributes(
		attribute.String("codesync.language", lang),
		attribute.Int("codesync.code_bytes", len(code)),
	))
	defer span.End()

	started := time.Now()
	result, err := c.call(ctx, lang, code)
	took := time.Since(started)

	status := types.ExecutionStatusOK
	if err != nil || result.Failed() {
		status = types.ExecutionStatusError
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn("Execution failed", "language", lang, "err", err)
	}

	c.metrics.Execution(lang, status, took)
	if c.journal != nil {
		c.journal.RecordExecution(&types.ExecutionRecord{
			ID:         uuid.NewString(),
			Language:   lang,
			Status:     status,
			DurationMS: took.Milliseconds(),
			Timestamp:  started.UTC(),
		})
	}

	return result, err
}

func (c *Client) call(ctx context.Context, lang, code string) (*Result, error) {
	version := c.versions[lang]
	if version == "" {
		version = "*"
	}

	body, err := json.Marshal(pistonRequest{
		Language: lang,
		Version:  version,
		Files:    []pistonFile{{Content: code}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build execution request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
	}

	var decoded pistonResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK || decoded.Run == nil {
		message := decoded.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", ErrUpstream, message)
	}

	result := &Result{
		Language: decoded.Language,
		Version:  decoded.Version,
		Run:      *decoded.Run,
		Compile:  decoded.Compile,
		Output:   decoded.Run.Output,
	}
	if decoded.Compile != nil && decoded.Compile.Code != nil && *decoded.Compile.Code != 0 {
		result.Output = decoded.Compile.Output
	}

	return result, nil
}
