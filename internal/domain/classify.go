package domain

import "math"

// FlowCategory is the severity bucket a flow value falls into relative to a
// reach's return-period thresholds. Known categories are totally ordered;
// Unknown sorts below all of them.
type FlowCategory int

const (
	CategoryUnknown FlowCategory = iota
	CategoryLow
	CategoryNormal
	CategoryModerate
	CategoryElevated
	CategoryHigh
	CategoryVeryHigh
	CategoryExtreme
)

var categoryNames = map[FlowCategory]string{
	CategoryUnknown:  "unknown",
	CategoryLow:      "low",
	CategoryNormal:   "normal",
	CategoryModerate: "moderate",
	CategoryElevated: "elevated",
	CategoryHigh:     "high",
	CategoryVeryHigh: "very_high",
	CategoryExtreme:  "extreme",
}

func (c FlowCategory) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return "unknown"
}

// Label is the human-readable form used in notification text.
var categoryLabels = map[FlowCategory]string{
	CategoryUnknown:  "unknown",
	CategoryLow:      "low",
	CategoryNormal:   "normal",
	CategoryModerate: "moderate",
	CategoryElevated: "elevated",
	CategoryHigh:     "high",
	CategoryVeryHigh: "very high",
	CategoryExtreme:  "extreme",
}

func (c FlowCategory) Label() string {
	if s, ok := categoryLabels[c]; ok {
		return s
	}
	return "unknown"
}

// AlertPriority ranks why a notification exists.
type AlertPriority string

const (
	PrioritySafety      AlertPriority = "safety"
	PriorityActivity    AlertPriority = "activity"
	PriorityInformation AlertPriority = "information"
	PriorityDemo        AlertPriority = "demo"
)

// Classification is the pure output of comparing a flow against a table.
type Classification struct {
	Category FlowCategory
	Priority AlertPriority
}

// categoryLadder pairs each standard return year with the category assigned
// when the flow is strictly below that year's threshold. Flows at or above
// every published threshold classify as Extreme.
var categoryLadder = [...]FlowCategory{
	CategoryLow,      // < 2-year
	CategoryNormal,   // < 5-year
	CategoryModerate, // < 10-year
	CategoryElevated, // < 25-year
	CategoryHigh,     // < 50-year
	CategoryVeryHigh, // < 100-year
}

// Classify maps a flow observation to a severity category and base priority.
// Pure and total: a nil or empty table yields Unknown/Information, never an
// error. The observation is converted into the table's unit first. The scan
// walks the standard years ascending and picks the first bucket whose
// threshold strictly exceeds the flow; a missing year is skipped as if its
// threshold were +Inf. scaleFactor divides every threshold before the
// comparison (1 for production).
func Classify(obs FlowObservation, table *ReturnPeriodTable, scaleFactor float64) Classification {
	if table.Empty() {
		return Classification{Category: CategoryUnknown, Priority: PriorityInformation}
	}

	flow := Convert(obs.Value, obs.Unit, table.Unit)

	category := CategoryExtreme
	for i, year := range StandardReturnYears {
		threshold, ok := table.Threshold(year, scaleFactor)
		if !ok {
			continue
		}
		if flow < threshold {
			category = categoryLadder[i]
			break
		}
	}

	return Classification{Category: category, Priority: basePriority(category)}
}

// basePriority maps a category to the priority used when no emergency rule
// or user threshold applies. High and above are safety-relevant.
func basePriority(category FlowCategory) AlertPriority {
	switch category {
	case CategoryHigh, CategoryVeryHigh, CategoryExtreme:
		return PrioritySafety
	default:
		return PriorityInformation
	}
}

// NearestReturnYear returns the standard return year whose threshold is
// numerically closest to the flow by absolute distance, with ties going to
// the smaller year. This is deliberately a different notion from the
// classification boundary scan (which is strict-less-than): the emergency
// rules key off proximity, not bucket membership. Returns 0 when the table
// has no usable values.
func NearestReturnYear(flow float64, unit FlowUnit, table *ReturnPeriodTable, scaleFactor float64) int {
	if table.Empty() {
		return 0
	}

	converted := Convert(flow, unit, table.Unit)

	nearest := 0
	bestDistance := math.Inf(1)
	for _, year := range StandardReturnYears {
		threshold, ok := table.Threshold(year, scaleFactor)
		if !ok {
			continue
		}
		if d := math.Abs(converted - threshold); d < bestDistance {
			bestDistance = d
			nearest = year
		}
	}
	return nearest
}
