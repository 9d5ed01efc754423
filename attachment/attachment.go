// Package attachment decides how a message's billing documents are retrieved
// from its attachment list.
package attachment

import (
	"strings"

	"github.com/dhcgn/invoice-ingest/model"
)

// Strategy is the retrieval path chosen for a message.
type Strategy int

const (
	// StrategySkip leaves the message untouched.
	StrategySkip Strategy = iota
	// StrategyDirect downloads a bare XML and PDF pair.
	StrategyDirect
	// StrategyBundle downloads a zip holding both documents.
	StrategyBundle
)

func (s Strategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyBundle:
		return "bundle"
	default:
		return "skip"
	}
}

// Plan is the outcome of Classify. XML and PDF are set for StrategyDirect,
// Zip for StrategyBundle.
type Plan struct {
	Strategy Strategy
	XML      *model.Part
	PDF      *model.Part
	Zip      *model.Part
}

// Classify picks the first XML, PDF and zip part by case-insensitive filename
// containment. A complete XML/PDF pair beats a zip.
func Classify(parts []model.Part) Plan {
	var plan Plan
	for i := range parts {
		name := strings.ToLower(parts[i].Filename)
		if plan.XML == nil && strings.Contains(name, ".xml") {
			plan.XML = &parts[i]
		}
		if plan.PDF == nil && strings.Contains(name, ".pdf") {
			plan.PDF = &parts[i]
		}
		if plan.Zip == nil && strings.Contains(name, ".zip") {
			plan.Zip = &parts[i]
		}
	}

	switch {
	case plan.XML != nil && plan.PDF != nil:
		plan.Strategy = StrategyDirect
	case plan.Zip != nil:
		plan.Strategy = StrategyBundle
	default:
		plan.Strategy = StrategySkip
	}
	return plan
}
