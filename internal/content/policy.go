package content

import (
	"encoding/json"
	"fmt"
	"sort"

	"learner_state_engine/internal/util"
)

// AssignmentGroup is one entry of the policy's GRADER list.
type AssignmentGroup struct {
	Type       string  `json:"type"`
	MinCount   int     `json:"min_count"`
	DropCount  int     `json:"drop_count"`
	Weight     float64 `json:"weight"`
	ShortLabel string  `json:"short_label,omitempty"`
}

// GradingPolicy is the course's grading configuration. Weights should sum to
// 1.0; the engine does not rescale. MinCount only pads the display with
// zero-scored placeholder sections, it never gates scoring.
type GradingPolicy struct {
	Grader       []AssignmentGroup  `json:"GRADER"`
	GradeCutoffs map[string]float64 `json:"GRADE_CUTOFFS"`
}

func ParsePolicy(raw []byte) (*GradingPolicy, error) {
	var p GradingPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrPolicy, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *GradingPolicy) Validate() error {
	if len(p.Grader) == 0 {
		return fmt.Errorf("%w: empty GRADER list", util.ErrPolicy)
	}
	seen := map[string]bool{}
	for _, g := range p.Grader {
		if g.Type == "" {
			return fmt.Errorf("%w: assignment group without type", util.ErrPolicy)
		}
		if seen[g.Type] {
			return fmt.Errorf("%w: duplicate assignment type %q", util.ErrPolicy, g.Type)
		}
		seen[g.Type] = true
		if g.Weight < 0 || g.DropCount < 0 || g.MinCount < 0 {
			return fmt.Errorf("%w: negative value in group %q", util.ErrPolicy, g.Type)
		}
	}
	if len(p.GradeCutoffs) == 0 {
		return fmt.Errorf("%w: empty GRADE_CUTOFFS", util.ErrPolicy)
	}
	for letter, cutoff := range p.GradeCutoffs {
		if cutoff < 0 || cutoff > 1 {
			return fmt.Errorf("%w: cutoff for %q outside [0,1]", util.ErrPolicy, letter)
		}
	}
	return nil
}

// gradeEpsilon absorbs IEEE-754 rounding at cutoff boundaries.
const gradeEpsilon = 1e-9

// Letter maps a percent to a letter by comparing against the cutoffs from
// highest threshold down. Empty string means no cutoff was reached.
func (p *GradingPolicy) Letter(percent float64) string {
	type cut struct {
		letter    string
		threshold float64
	}
	cuts := make([]cut, 0, len(p.GradeCutoffs))
	for letter, threshold := range p.GradeCutoffs {
		cuts = append(cuts, cut{letter, threshold})
	}
	sort.Slice(cuts, func(i, j int) bool {
		if cuts[i].threshold != cuts[j].threshold {
			return cuts[i].threshold > cuts[j].threshold
		}
		return cuts[i].letter < cuts[j].letter
	})
	for _, c := range cuts {
		if percent+gradeEpsilon >= c.threshold {
			return c.letter
		}
	}
	return ""
}
