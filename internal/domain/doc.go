// Package domain models river-reach streamflow data and the alerting rules
// built on top of it.
//
// # Data Source
//
// Flow forecasts come from the NOAA National Water Prediction Service (NWPS),
// which publishes National Water Model output per reach. Each reach is a
// uniquely identified river segment. Forecasts are split into horizons of
// increasing lead time and decreasing confidence: short_range, medium_range,
// and long_range. Alerting only considers short and medium range; long-range
// forecasts are too uncertain to act on.
//
// # Return Periods
//
// A reach's flood-frequency table maps the standard return periods
// {2, 5, 10, 25, 50, 100} years to flow magnitudes: the 100-year value is
// the flow expected to be equaled or exceeded on average once a century.
// Values are non-decreasing by year in well-formed tables.
//
// # Units
//
// Flow is volumetric: cubic feet per second (cfs, imperial) or cubic meters
// per second (cms, metric). The conversion factors mirror the source data
// and are not exact reciprocals; see [Convert].
//
// # Classification
//
// A flow value classifies into one of seven ordered categories by scanning
// the return years ascending and taking the first threshold that strictly
// exceeds it:
//
//	< 2-year   low
//	< 5-year   normal
//	< 10-year  moderate
//	< 25-year  elevated
//	< 50-year  high
//	< 100-year very_high
//	otherwise  extreme
//
// A missing year is skipped as if its threshold were +Inf. With no table at
// all the category is unknown. High and above carry the safety base
// priority; everything else is informational.
//
// # Emergency Conditions
//
// An emergency rule promotes a category to a mandatory safety alert, keyed
// on the category plus, optionally, the return year nearest to the flow by
// absolute distance. Nearest-year proximity is intentionally a different
// measure than the classification scan and the two must not be merged; see
// [NearestReturnYear].
//
// # Decisions
//
// [Decide] resolves one (user, reach, forecast) evaluation: emergency rules
// beat user-defined activity thresholds, which beat the base priority.
// Preference toggles and quiet hours gate delivery; critical urgency
// bypasses quiet hours and fans out to every channel.
package domain
