package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linharesaron/mboitata/internal/capture"
	"github.com/linharesaron/mboitata/internal/pipeline"
)

type fakeCounter struct {
	stageEvents []string
	findings    []string
}

func (f *fakeCounter) RecordStageEvent(stage string) { f.stageEvents = append(f.stageEvents, stage) }
func (f *fakeCounter) RecordFinding(label string)    { f.findings = append(f.findings, label) }

func TestInstrumented_RecordsStageEvent(t *testing.T) {
	inner := &collectingStage{}
	counter := &fakeCounter{}
	i := Instrumented{Stage: inner, ID: pipeline.Scan, Counter: counter}

	i.Process(nil, capture.Response{Host: "example.com", Path: "/app.js"})

	assert.Equal(t, []string{"Scan"}, counter.stageEvents)
	assert.Len(t, inner.got, 1)
}

func TestInstrumented_RecordsFindingLabel(t *testing.T) {
	inner := &collectingStage{}
	counter := &fakeCounter{}
	i := Instrumented{Stage: inner, ID: pipeline.SaveFile, Counter: counter}

	i.Process(nil, capture.Response{Host: "example.com", Path: "/findings/app.js/JWT"})

	assert.Equal(t, []string{"JWT"}, counter.findings)
}

func TestInstrumented_NoCounter(t *testing.T) {
	inner := &collectingStage{}
	i := Instrumented{Stage: inner, ID: pipeline.Filter}

	assert.NotPanics(t, func() {
		i.Process(nil, capture.Response{Host: "example.com", Path: "/x"})
	})
	assert.Len(t, inner.got, 1)
}

func TestFindingLabel(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantLabel string
		wantOK    bool
	}{
		{name: "well formed", path: "/findings/app.js/VARS", wantLabel: "VARS", wantOK: true},
		{name: "no marker", path: "/static/app.js", wantOK: false},
		{name: "missing label", path: "/findings/app.js/", wantOK: false},
		{name: "nested basename", path: "/findings/a/b/CALLS", wantLabel: "b/CALLS", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, ok := findingLabel(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantLabel, label)
			}
		})
	}
}
