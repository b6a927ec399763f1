package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Urgency ranks how aggressively a notification should be delivered.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Channel selects the delivery path(s) for a decision.
type Channel string

const (
	ChannelPush Channel = "push"
	ChannelSMS  Channel = "sms"
	ChannelAll  Channel = "all"
)

// Trigger records which rule produced the decision.
type Trigger string

const (
	TriggerSafety    Trigger = "safety"
	TriggerThreshold Trigger = "threshold"
	TriggerDemo      Trigger = "demo"
	TriggerNone      Trigger = "none"
)

// EmergencyRule promotes a classification to a mandatory safety alert.
// A rule matches when the category equals Category and, if MinReturnYear is
// set (non-zero), the nearest return year to the flow is at least that value.
type EmergencyRule struct {
	Category      FlowCategory
	MinReturnYear int
	Urgency       Urgency
	Description   string
}

// DefaultEmergencyRules is the production emergency-condition table. Callers
// pass it (or a narrowed copy) into Decide so the engine stays deterministic.
func DefaultEmergencyRules() []EmergencyRule {
	return []EmergencyRule{
		{Category: CategoryHigh, MinReturnYear: 25, Urgency: UrgencyHigh,
			Description: "Flow is near major flood thresholds for this reach."},
		{Category: CategoryVeryHigh, MinReturnYear: 50, Urgency: UrgencyCritical,
			Description: "Flow is approaching the highest flood thresholds on record for this reach."},
		{Category: CategoryExtreme, Urgency: UrgencyCritical,
			Description: "Flow exceeds the 100-year flood threshold for this reach."},
	}
}

// QuietHours is a user-local window during which non-critical notifications
// are held back. Start and End are "HH:MM"; a window with Start > End spans
// midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// NotificationPreference holds a user's alerting toggles.
type NotificationPreference struct {
	UserID            string
	EnabledReachIDs   map[string]bool
	EmergencyAlerts   bool
	ActivityAlerts    bool
	InformationAlerts bool
	QuietHours        QuietHours
}

// UserThreshold is a user-defined operating band for an activity on a reach.
// The alert fires when flow leaves the band: below MinFlow or above MaxFlow.
type UserThreshold struct {
	ID       string
	UserID   string
	ReachID  string
	Activity string
	Unit     FlowUnit
	MinFlow  *float64
	MaxFlow  *float64
	Enabled  bool
}

// Triggered reports whether the flow (given in obs units) is outside the
// band. Disabled thresholds never trigger.
func (t UserThreshold) Triggered(flow float64, unit FlowUnit) bool {
	if !t.Enabled {
		return false
	}
	converted := Convert(flow, unit, t.Unit)
	if t.MinFlow != nil && converted < *t.MinFlow {
		return true
	}
	if t.MaxFlow != nil && converted > *t.MaxFlow {
		return true
	}
	return false
}

// NotificationData is the structured payload attached to every alert,
// consumed by the client's deep-link handler.
type NotificationData struct {
	Type      string        `json:"type"`
	ReachID   string        `json:"reachId"`
	Category  string        `json:"category"`
	Priority  AlertPriority `json:"priority"`
	FlowValue float64       `json:"flowValue"`
	FlowUnit  FlowUnit      `json:"flowUnit"`
	Timestamp time.Time     `json:"timestamp"`
	DeepLink  string        `json:"deepLink"`
}

// notificationType tags every flow alert payload for client-side routing.
const notificationType = "flow_alert"

// DeepLink is the client route for a reach, scheme app://reach/{reachId}.
func DeepLink(reachID string) string {
	return "app://reach/" + reachID
}

// AlertDecision is the complete outcome of one (user, reach, forecast)
// evaluation. Computed fresh each cycle and discarded after dispatch.
type AlertDecision struct {
	ShouldSend  bool
	Priority    AlertPriority
	Urgency     Urgency
	TriggeredBy Trigger
	Channel     Channel
	Title       string
	Body        string
	Data        NotificationData
}

// DecisionInput bundles everything Decide needs so the engine stays pure.
type DecisionInput struct {
	Observation    FlowObservation
	Classification Classification
	Table          *ReturnPeriodTable
	Thresholds     []UserThreshold
	Preference     NotificationPreference
	EmergencyRules []EmergencyRule
	ReachName      string
	PreviousFlow   *float64 // prior cycle's flow in observation units, for trend text
	ScaleFactor    float64
	DemoMode       bool
	Now            time.Time
	Location       *time.Location // quiet-hours timezone; nil means Now's location
}

// Decide combines a classification with emergency rules, the user's custom
// thresholds, and notification preferences into a single alert decision.
// Precedence is fixed: emergency rules, then custom thresholds, then the
// classifier's base priority. Pure and total for well-formed input; a
// missing table has already degraded the classification to Unknown.
func Decide(in DecisionInput) AlertDecision {
	priority := in.Classification.Priority
	urgency := UrgencyLow
	triggeredBy := TriggerNone
	description := ""

	if rule, ok := matchEmergencyRule(in); ok {
		priority = PrioritySafety
		urgency = rule.Urgency
		triggeredBy = TriggerSafety
		description = rule.Description
	} else if matchUserThreshold(in) {
		priority = PriorityActivity
		urgency = UrgencyMedium
		triggeredBy = TriggerThreshold
	}

	if in.DemoMode {
		priority = PriorityDemo
		triggeredBy = TriggerDemo
	}

	shouldSend := priorityEnabled(priority, in.Preference) &&
		in.Preference.EnabledReachIDs[in.Observation.ReachID]

	if shouldSend && urgency != UrgencyCritical && inQuietHours(in.Preference.QuietHours, in.Now, in.Location) {
		shouldSend = false
	}

	channel := selectChannel(priority, urgency)
	title, body := renderMessage(in, priority, description)

	return AlertDecision{
		ShouldSend:  shouldSend,
		Priority:    priority,
		Urgency:     urgency,
		TriggeredBy: triggeredBy,
		Channel:     channel,
		Title:       title,
		Body:        body,
		Data: NotificationData{
			Type:      notificationType,
			ReachID:   in.Observation.ReachID,
			Category:  in.Classification.Category.String(),
			Priority:  priority,
			FlowValue: in.Observation.Value,
			FlowUnit:  in.Observation.Unit,
			Timestamp: in.Now,
			DeepLink:  DeepLink(in.Observation.ReachID),
		},
	}
}

func matchEmergencyRule(in DecisionInput) (EmergencyRule, bool) {
	for _, rule := range in.EmergencyRules {
		if rule.Category != in.Classification.Category {
			continue
		}
		if rule.MinReturnYear > 0 {
			nearest := NearestReturnYear(in.Observation.Value, in.Observation.Unit, in.Table, in.ScaleFactor)
			if nearest < rule.MinReturnYear {
				continue
			}
		}
		return rule, true
	}
	return EmergencyRule{}, false
}

func matchUserThreshold(in DecisionInput) bool {
	for _, t := range in.Thresholds {
		if t.ReachID != in.Observation.ReachID {
			continue
		}
		if t.Triggered(in.Observation.Value, in.Observation.Unit) {
			return true
		}
	}
	return false
}

func priorityEnabled(priority AlertPriority, pref NotificationPreference) bool {
	switch priority {
	case PrioritySafety:
		return pref.EmergencyAlerts
	case PriorityActivity:
		return pref.ActivityAlerts
	case PriorityInformation:
		return pref.InformationAlerts
	case PriorityDemo:
		return true
	default:
		return false
	}
}

// selectChannel picks the delivery path: critical urgency fans out to every
// channel, high-urgency safety alerts use the highest-assurance single
// channel (SMS), everything else is a plain push.
func selectChannel(priority AlertPriority, urgency Urgency) Channel {
	switch {
	case urgency == UrgencyCritical:
		return ChannelAll
	case urgency == UrgencyHigh && priority == PrioritySafety:
		return ChannelSMS
	default:
		return ChannelPush
	}
}

// inQuietHours reports whether now falls inside the user's quiet window.
// Overnight windows (start > end) are the union of [start,24h) and [0,end).
// A malformed window never suppresses.
func inQuietHours(qh QuietHours, now time.Time, loc *time.Location) bool {
	if !qh.Enabled {
		return false
	}
	start, okS := parseTimeOfDay(qh.Start)
	end, okE := parseTimeOfDay(qh.End)
	if !okS || !okE || start == end {
		return false
	}

	if loc != nil {
		now = now.In(loc)
	}
	minute := now.Hour()*60 + now.Minute()

	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// parseTimeOfDay converts "HH:MM" to minutes past midnight.
func parseTimeOfDay(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	hour, errH := strconv.Atoi(parts[0])
	minute, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

// roundedFlow formats a flow value to the nearest whole unit for display.
func roundedFlow(value float64, unit FlowUnit) string {
	return fmt.Sprintf("%.0f %s", value, strings.ToUpper(string(unit)))
}
