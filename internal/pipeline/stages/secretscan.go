package stages

import (
	"regexp"
	"sort"
	"strings"

	"github.com/linharesaron/mboitata/internal/capture"
	"github.com/linharesaron/mboitata/internal/pipeline"
)

// secretPattern is one named regex the scanner runs over a response
// body; Group selects which submatch becomes the recorded value (0 for
// the whole match).
type secretPattern struct {
	Label string
	Re    *regexp.Regexp
	Group int
}

var secretPatterns = []secretPattern{
	{Label: "JWT", Re: regexp.MustCompile(`eyJ[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+`)},
	{Label: "Bearer Token", Re: regexp.MustCompile(`(?i)bearer\s+([A-Za-z0-9\-_.=]+)`)},
	{Label: "API Key", Re: regexp.MustCompile(`(?i)(?:api|access|secret)[_\-]?key["']?\s*[:=]\s*["']?[A-Za-z0-9\-_]{16,}`)},
	{Label: "URL", Re: regexp.MustCompile(`https?://[^\s"'<>]+`)},
	{Label: "NODE_ENV", Re: regexp.MustCompile(`(?m)^var.+?=.*NODE_ENV.+?$`)},
}

// SecretScanStage runs a fixed set of regexes over every text response
// and writes one finding file per non-empty category, under
// findings/<basename>/<label>.
type SecretScanStage struct{}

func (s *SecretScanStage) Process(d *pipeline.Dispatcher, resp capture.Response) {
	text, ok := resp.GetBody()
	if !ok {
		return
	}

	for _, p := range secretPatterns {
		matches := p.Re.FindAllStringSubmatch(text, -1)
		if len(matches) == 0 {
			continue
		}

		seen := make(map[string]struct{}, len(matches))
		var values []string
		for _, m := range matches {
			v := m[0]
			if p.Group > 0 && p.Group < len(m) {
				v = m[p.Group]
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
		if len(values) == 0 {
			continue
		}
		sort.Strings(values)
		d.Emit(pipeline.SaveFile, findingResponse(resp, p.Label, strings.Join(values, "\n")))
	}
}
