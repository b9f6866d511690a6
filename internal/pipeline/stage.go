/*
Package pipeline implements the stage-based event router that fans
captured responses through filtering, source-map recovery, secret
scanning, and JS static analysis.

Stages are a closed enumeration resolved through a read-only lookup
table at build time: a named-constructor registry resolved at startup
into a read-only dispatch table keyed by stage id.
*/
package pipeline

import "github.com/linharesaron/mboitata/internal/capture"

// StageID is the closed enumeration of pipeline stage identities.
type StageID int

const (
	Filter StageID = iota
	Map
	SaveFile
	Scan
	JsScan
)

// String renders the stage identity for logging.
func (s StageID) String() string {
	switch s {
	case Filter:
		return "Filter"
	case Map:
		return "Map"
	case SaveFile:
		return "SaveFile"
	case Scan:
		return "Scan"
	case JsScan:
		return "JsScan"
	default:
		return "Unknown"
	}
}

// Stage processes one captured response, optionally re-emitting further
// events to the dispatcher it is handed.
type Stage interface {
	Process(d *Dispatcher, resp capture.Response)
}
