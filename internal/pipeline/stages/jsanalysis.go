package stages

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/linharesaron/mboitata/internal/capture"
	"github.com/linharesaron/mboitata/internal/jsast"
	"github.com/linharesaron/mboitata/internal/pipeline"
)

// JsAnalysisStage parses JavaScript bodies and records what it finds as
// two findings: VARS (constant-folded variables and object literals) and
// CALLS (outbound HTTP calls the script makes, with whatever URL and
// auth header the usage pass could resolve).
type JsAnalysisStage struct {
	Logger *slog.Logger
	// OnParseFailure, if set, is called once per body the parser could
	// not analyze. Used to feed the telemetry collector without this
	// package importing internal/telemetry directly.
	OnParseFailure func()
}

func (s *JsAnalysisStage) Process(d *pipeline.Dispatcher, resp capture.Response) {
	logger := s.logger()

	text, ok := resp.GetBody()
	if !ok {
		return
	}

	result, err := jsast.Analyze(text)
	if err != nil {
		logger.Warn("js-analysis: parse failed", "host", resp.Host, "path", resp.Path, "error", err)
		if s.OnParseFailure != nil {
			s.OnParseFailure()
		}
		return
	}

	if len(result.Values) > 0 {
		d.Emit(pipeline.SaveFile, findingResponse(resp, "VARS", renderVars(result.Values)))
	}
	if len(result.HTTPCalls) > 0 {
		d.Emit(pipeline.SaveFile, findingResponse(resp, "CALLS", renderCalls(result.HTTPCalls)))
	}
}

func (s *JsAnalysisStage) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func renderVars(values jsast.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s=%s", k, values[k]))
	}
	return strings.Join(lines, "\n")
}

const callSeparator = "=================================================="

func renderCalls(calls []jsast.HTTPCall) string {
	blocks := make([]string, 0, len(calls))
	for _, c := range calls {
		auth := c.Authorization
		if auth == "" {
			auth = "-"
		}
		blocks = append(blocks, fmt.Sprintf("Url: %s\nMethod: %s\nAuth: %s\n", c.URL, c.Method, auth))
	}
	return strings.Join(blocks, callSeparator+"\n")
}
