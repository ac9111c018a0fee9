package risk

// Per-dimension trigger thresholds for the advice rule table.
const (
	adviseDensityAbove    = 0.7
	adviseBottleneckAbove = 0.6
	adviseEntropyAbove    = 0.7
)

// Suggested mitigation actions, grouped per triggering dimension.
// The strings are stable identifiers consumed by the dashboard.
var (
	densityActions    = []string{"reduce_inflow", "open_secondary_exits"}
	bottleneckActions = []string{"widen_choke_point", "redirect_flow"}
	entropyActions    = []string{"deploy_flow_guides", "announce_directions"}
	emergencyActions  = []string{"escalate_to_operator", "dispatch_staff"}
)

// Advise returns the ordered mitigation list for a classified sample.
// The result is never nil so it serializes as a JSON array.
//
// Green always yields an empty list. For yellow and red, the rule table is
// evaluated in fixed order (density, bottleneck, entropy) and matching
// action groups are appended in that order, so the output is reproducible.
// A red event where no per-dimension rule fired gets the generic
// emergency escalation pair instead.
func Advise(t Telemetry, level Level) []string {
	actions := []string{}
	if level == LevelGreen {
		return actions
	}
	if t.Density > adviseDensityAbove {
		actions = append(actions, densityActions...)
	}
	if t.BottleneckIndex > adviseBottleneckAbove {
		actions = append(actions, bottleneckActions...)
	}
	if t.FlowEntropy > adviseEntropyAbove {
		actions = append(actions, entropyActions...)
	}

	if level == LevelRed && len(actions) == 0 {
		actions = append(actions, emergencyActions...)
	}
	return actions
}
