package stages

import (
	"strings"

	"github.com/linharesaron/mboitata/internal/capture"
	"github.com/linharesaron/mboitata/internal/pipeline"
)

// Counter is the subset of telemetry.Collector this package depends on,
// kept as a local interface so stages doesn't import internal/telemetry
// directly (avoids a dependency edge in the wrong direction; main wires
// the concrete *telemetry.Collector in).
type Counter interface {
	RecordStageEvent(stage string)
	RecordFinding(label string)
}

// Instrumented wraps a Stage so every processed event and every finding
// written under /findings/<basename>/<label> is recorded on a Counter.
type Instrumented struct {
	Stage   pipeline.Stage
	ID      pipeline.StageID
	Counter Counter
}

func (i Instrumented) Process(d *pipeline.Dispatcher, resp capture.Response) {
	if i.Counter != nil {
		i.Counter.RecordStageEvent(i.ID.String())
		if label, ok := findingLabel(resp.Path); ok {
			i.Counter.RecordFinding(label)
		}
	}
	i.Stage.Process(d, resp)
}

// findingLabel extracts the <label> component from a findings/<basename>/<label>
// path, as produced by findingResponse.
func findingLabel(path string) (string, bool) {
	const marker = "/findings/"
	idx := strings.Index(path, marker)
	if idx < 0 {
		return "", false
	}
	rest := path[idx+len(marker):]
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
