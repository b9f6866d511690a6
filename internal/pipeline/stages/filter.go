package stages

import (
	"strings"

	"github.com/linharesaron/mboitata/internal/allowlist"
	"github.com/linharesaron/mboitata/internal/capture"
	"github.com/linharesaron/mboitata/internal/pipeline"
)

// FilterStage is the pipeline's entry point: every captured response is
// emitted here first. Out-of-scope hosts and binary/stylesheet noise are
// dropped; JavaScript goes on to source-map recovery, everything else
// goes straight to the secret scanner.
type FilterStage struct {
	Allow *allowlist.List
}

func (f *FilterStage) Process(d *pipeline.Dispatcher, resp capture.Response) {
	if !f.Allow.InScope(resp.Host) {
		return
	}
	if strings.HasPrefix(resp.ContentType, "image/") || strings.HasSuffix(resp.Path, "css") {
		return
	}
	if strings.Contains(resp.ContentType, "javascript") {
		d.Emit(pipeline.Map, resp)
		return
	}
	d.Emit(pipeline.Scan, resp)
}
