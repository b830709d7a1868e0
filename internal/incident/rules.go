package incident

// Rule identifiers recorded in routing decisions.
const (
	RuleHighSeverity         = "severity>80"
	RuleWeaponOrInjury       = "weapon_or_injury"
	RuleMediumHighSeverity   = "medium_high_severity"
	RuleDistressedHarassment = "distressed_harassment"
	RuleLowSeverity          = "low_severity"
)

// Decide maps classification output to a routing decision. Pure and
// deterministic, no I/O. Rules are evaluated in order and later rules
// override earlier ones; every rule that matched is recorded even when its
// route was overridden, for audit transparency.
func Decide(fields ExtractedFields) RoutingDecision {
	route := RouteLogOnly
	var triggered []string

	if fields.SeverityScore > 80 {
		route = RouteEscalate
		triggered = append(triggered, RuleHighSeverity)
	}

	weaponOrInjury := hasAny(fields.RiskIndicators, "weapon", "injury")
	if weaponOrInjury {
		route = RouteImmediate
		triggered = append(triggered, RuleWeaponOrInjury)
	}

	// Medium-high severity yields to an Immediate set by the rule above, but
	// the match is still recorded.
	if fields.SeverityScore > 50 && fields.SeverityScore <= 80 {
		if !weaponOrInjury {
			route = RouteReview
		}
		triggered = append(triggered, RuleMediumHighSeverity)
	}

	if fields.Emotion == "distressed" && fields.Category == "harassment" {
		route = RouteEscalate
		triggered = append(triggered, RuleDistressedHarassment)
	}

	if fields.SeverityScore <= 50 && route == RouteLogOnly {
		triggered = append(triggered, RuleLowSeverity)
	}

	return RoutingDecision{Route: route, TriggeredRules: triggered}
}

// SeverityLabelFor returns the unique bucket containing score.
// Scores outside 0..100 are clamped.
func SeverityLabelFor(score int) SeverityLabel {
	switch {
	case score <= 25:
		return SeverityLow
	case score <= 50:
		return SeverityMedium
	case score <= 75:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// NeedsHumanReview is the deterministic predicate computed at the Review
// stage: high or critical severity, a failed overall review, or any legal
// considerations force a human into the loop.
func NeedsHumanReview(fields ExtractedFields, review Review) bool {
	return fields.SeverityLabel == SeverityHigh ||
		fields.SeverityLabel == SeverityCritical ||
		!review.OverallPassed ||
		len(review.LegalConsiderations) > 0
}

// AssignedTeamFor maps category and severity to the owning response team.
func AssignedTeamFor(category string, severity SeverityLabel) string {
	switch severity {
	case SeverityCritical:
		return "Emergency Response Team"
	case SeverityHigh:
		return "Priority Response Team"
	}

	switch category {
	case "harassment":
		return "Student Affairs"
	case "accident":
		return "Safety & Security"
	case "cyber":
		return "IT Security Team"
	case "infrastructure":
		return "Facilities Management"
	case "medical":
		return "Health Services"
	default:
		return "General Support"
	}
}

func hasAny(haystack []string, needles ...string) bool {
	for _, h := range haystack {
		for _, n := range needles {
			if h == n {
				return true
			}
		}
	}
	return false
}
