package domain

import "fmt"

// renderMessage builds the notification title and body from the resolved
// priority, the category, and the reach. Safety alerts carry the matched
// emergency rule's description; a trend suffix is appended when the
// previous cycle's flow is known.
func renderMessage(in DecisionInput, priority AlertPriority, emergencyDescription string) (string, string) {
	name := in.ReachName
	if name == "" {
		name = "reach " + in.Observation.ReachID
	}
	flow := roundedFlow(in.Observation.Value, in.Observation.Unit)
	label := in.Classification.Category.Label()

	var title, body string
	switch priority {
	case PrioritySafety:
		title = "Flood safety alert: " + name
		body = fmt.Sprintf("Flow is %s (%s).", flow, label)
		if emergencyDescription != "" {
			body += " " + emergencyDescription
		}
	case PriorityActivity:
		title = "Flow alert: " + name
		body = fmt.Sprintf("Flow is %s, outside your configured range.", flow)
	case PriorityDemo:
		title = "Demo alert: " + name
		body = fmt.Sprintf("Flow is %s (%s).", flow, label)
	default:
		title = "Flow update: " + name
		body = fmt.Sprintf("Flow is %s (%s).", flow, label)
	}

	body += trendSuffix(in)
	return title, body
}

func trendSuffix(in DecisionInput) string {
	if in.PreviousFlow == nil {
		return ""
	}
	switch {
	case in.Observation.Value > *in.PreviousFlow:
		return " Flow is rising."
	case in.Observation.Value < *in.PreviousFlow:
		return " Flow is falling."
	default:
		return ""
	}
}
