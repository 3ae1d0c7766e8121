// Package classify resolves imported controls against a compliance profile
// into the applicable and out-of-scope sets.
package classify

import (
	"fmt"
	"sort"

	"github.com/ppiankov/missionctl/internal/model"
	"github.com/ppiankov/missionctl/internal/profile"
)

// Compiler turns raw controls into compiled controls for a profile.
type Compiler interface {
	Compile(p *profile.Profile, controls []model.ControlRecord) (model.CompiledControls, error)
}

// ProfileCompiler classifies by the profile's scope rules. Applicable
// controls start Open; out-of-scope controls are NotApplicable with the
// scope reason as comment.
type ProfileCompiler struct{}

// Compile implements Compiler. Both output sets are sorted by primary key.
func (ProfileCompiler) Compile(p *profile.Profile, controls []model.ControlRecord) (model.CompiledControls, error) {
	if p == nil {
		return model.CompiledControls{}, fmt.Errorf("classify: profile is required")
	}

	seen := make(map[string]int, len(controls))
	out := model.CompiledControls{
		Applicable: []model.CompiledControl{},
		OutOfScope: []model.CompiledControl{},
	}
	for i, c := range controls {
		key := c.PrimaryKey()
		if key == "" {
			return model.CompiledControls{}, fmt.Errorf("classify: control %d has neither rule_id nor vuln_id", i)
		}
		if prev, ok := seen[key]; ok {
			return model.CompiledControls{}, fmt.Errorf("classify: duplicate control %s at %d and %d", key, prev, i)
		}
		seen[key] = i

		if ok, reason := p.Scope(c); ok {
			out.Applicable = append(out.Applicable, model.CompiledControl{
				Control: c,
				Status:  model.StatusOpen,
			})
		} else {
			out.OutOfScope = append(out.OutOfScope, model.CompiledControl{
				Control: c,
				Status:  model.StatusNotApplicable,
				Comment: reason,
			})
		}
	}

	sortByKey(out.Applicable)
	sortByKey(out.OutOfScope)
	return out, nil
}

func sortByKey(cs []model.CompiledControl) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Control.PrimaryKey() < cs[j].Control.PrimaryKey()
	})
}
