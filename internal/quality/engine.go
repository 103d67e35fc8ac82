package quality

import (
	"fmt"
	"sort"
)

// Status is the per-parameter classification of a measured value.
type Status string

const (
	StatusAcceptable   Status = "acceptable"
	StatusMarginal     Status = "marginal"
	StatusUnacceptable Status = "unacceptable"
)

// Overall is the aggregate quality category derived from the score.
type Overall string

const (
	OverallExcellent    Overall = "excellent"
	OverallGood         Overall = "good"
	OverallAcceptable   Overall = "acceptable"
	OverallPoor         Overall = "poor"
	OverallUnacceptable Overall = "unacceptable"
)

// Severity ranks an issue. critical > high > medium > low.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Issue is one actionable finding derived from a parameter violation.
type Issue struct {
	Parameter      string   `json:"parameter"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
}

// Parameter is a measured value checked against a single upper limit.
// A zero limit means no limit is configured and the value is informational.
type Parameter struct {
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
	Limit  float64 `json:"limit,omitempty"`
	Status Status  `json:"status"`
}

// RangeParameter is a measured value checked against a [Min, Max] band.
type RangeParameter struct {
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Status Status  `json:"status"`
}

// MinParameter is a measured value with a required minimum (residual
// chlorine must stay above its limit, not below).
type MinParameter struct {
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
	Min    float64 `json:"min"`
	Status Status  `json:"status"`
}

// PhysicalParams are the physical water parameters.
type PhysicalParams struct {
	Temperature Parameter `json:"temperature"`
	Turbidity   Parameter `json:"turbidity"`
	Color       Parameter `json:"color"`
	Odor        Parameter `json:"odor"`
	Taste       Parameter `json:"taste"`
}

// ChemicalParams are the chemical water parameters.
type ChemicalParams struct {
	PH               RangeParameter `json:"ph"`
	TDS              Parameter      `json:"tds"`
	Hardness         Parameter      `json:"hardness"`
	Chloride         Parameter      `json:"chloride"`
	Sulfate          Parameter      `json:"sulfate"`
	Fluoride         Parameter      `json:"fluoride"`
	Nitrate          Parameter      `json:"nitrate"`
	ResidualChlorine MinParameter   `json:"residualChlorine"`
}

// BacteriologicalParams are the bacteriological counts, all zero-tolerance.
type BacteriologicalParams struct {
	TotalColiform Parameter `json:"totalColiform"`
	FecalColiform Parameter `json:"fecalColiform"`
	EColi         Parameter `json:"eColi"`
}

// Sample carries the raw parameter values of one water quality sample plus
// the derived assessment. Score, category and issues are only ever written
// together by Assess; upstream code supplies the values and never touches
// the derived fields.
type Sample struct {
	Physical        PhysicalParams        `json:"physical"`
	Chemical        ChemicalParams        `json:"chemical"`
	Bacteriological BacteriologicalParams `json:"bacteriological"`

	QualityScore   int     `json:"qualityScore"`
	OverallQuality Overall `json:"overallQuality"`
	Issues         []Issue `json:"issues"`
}

// Permissible limits. pH and turbidity additionally carry marginal bands in
// their status functions.
const (
	phMin        = 6.5
	phMax        = 8.5
	phMarginLow  = 6.0
	phMarginHigh = 9.0

	turbidityLimit    = 1.0
	turbidityMarginal = 5.0

	tdsLimit      = 500.0
	hardnessLimit = 300.0
	chlorideLimit = 250.0
	sulfateLimit  = 200.0
	fluorideLimit = 1.0
	nitrateLimit  = 45.0
	chlorineMin   = 0.2

	colorLimit = 5.0
	odorLimit  = 2.0
	tasteLimit = 2.0
)

// Penalty weights per violated parameter.
const (
	penaltyTurbidity = 10
	penaltyPH        = 15
	penaltyTDS       = 10
	penaltyChlorine  = 20
	penaltyColiform  = 30
	penaltyEColi     = 40
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

// NewSensorSample builds a Sample from the values a quality probe reports,
// with the standard permissible limits applied. Parameters the probe does
// not measure are left at zero with no limit.
func NewSensorSample(ph, turbidity, tds, chlorine, temperature float64) Sample {
	return Sample{
		Physical: PhysicalParams{
			Temperature: Parameter{Value: temperature, Unit: "°C"},
			Turbidity:   Parameter{Value: turbidity, Unit: "NTU", Limit: turbidityLimit},
		},
		Chemical: ChemicalParams{
			PH:               RangeParameter{Value: ph, Min: phMin, Max: phMax},
			TDS:              Parameter{Value: tds, Unit: "mg/L", Limit: tdsLimit},
			ResidualChlorine: MinParameter{Value: chlorine, Unit: "mg/L", Min: chlorineMin},
		},
		Bacteriological: BacteriologicalParams{
			TotalColiform: Parameter{Value: 0, Unit: "CFU/100mL"},
			FecalColiform: Parameter{Value: 0, Unit: "CFU/100mL"},
			EColi:         Parameter{Value: 0, Unit: "CFU/100mL"},
		},
	}
}

// Engine derives score, category, per-parameter statuses and issues from a
// sample's raw parameter values. It is pure: no clock, no I/O, no state.
type Engine struct{}

// NewEngine creates the assessment engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Assess returns a copy of the sample with QualityScore, OverallQuality,
// per-parameter Status and Issues populated. The same input always produces
// the same output.
func (e *Engine) Assess(sample Sample) Sample {
	s := sample

	// Per-parameter statuses.
	s.Chemical.PH.Status = phStatus(s.Chemical.PH.Value)
	s.Physical.Turbidity.Status = turbidityStatus(s.Physical.Turbidity.Value)
	s.Physical.Temperature.Status = limitStatus(s.Physical.Temperature.Value, s.Physical.Temperature.Limit)
	s.Physical.Color.Status = limitStatus(s.Physical.Color.Value, s.Physical.Color.Limit)
	s.Physical.Odor.Status = limitStatus(s.Physical.Odor.Value, s.Physical.Odor.Limit)
	s.Physical.Taste.Status = limitStatus(s.Physical.Taste.Value, s.Physical.Taste.Limit)
	s.Chemical.TDS.Status = limitStatus(s.Chemical.TDS.Value, s.Chemical.TDS.Limit)
	s.Chemical.Hardness.Status = limitStatus(s.Chemical.Hardness.Value, s.Chemical.Hardness.Limit)
	s.Chemical.Chloride.Status = limitStatus(s.Chemical.Chloride.Value, s.Chemical.Chloride.Limit)
	s.Chemical.Sulfate.Status = limitStatus(s.Chemical.Sulfate.Value, s.Chemical.Sulfate.Limit)
	s.Chemical.Fluoride.Status = limitStatus(s.Chemical.Fluoride.Value, s.Chemical.Fluoride.Limit)
	s.Chemical.Nitrate.Status = limitStatus(s.Chemical.Nitrate.Value, s.Chemical.Nitrate.Limit)
	s.Chemical.ResidualChlorine.Status = minStatus(s.Chemical.ResidualChlorine.Value, s.Chemical.ResidualChlorine.Min)
	s.Bacteriological.TotalColiform.Status = zeroToleranceStatus(s.Bacteriological.TotalColiform.Value)
	s.Bacteriological.FecalColiform.Status = zeroToleranceStatus(s.Bacteriological.FecalColiform.Value)
	s.Bacteriological.EColi.Status = zeroToleranceStatus(s.Bacteriological.EColi.Value)

	// Penalty-based score. Order-independent: each rule contributes a fixed
	// penalty regardless of the others.
	penalty := 0
	if s.Physical.Turbidity.Value > turbidityLimit {
		penalty += penaltyTurbidity
	}
	if s.Chemical.PH.Value < phMin || s.Chemical.PH.Value > phMax {
		penalty += penaltyPH
	}
	if s.Chemical.TDS.Value > tdsLimit {
		penalty += penaltyTDS
	}
	if s.Chemical.ResidualChlorine.Value < chlorineMin {
		penalty += penaltyChlorine
	}
	if s.Bacteriological.TotalColiform.Value > 0 {
		penalty += penaltyColiform
	}
	if s.Bacteriological.EColi.Value > 0 {
		penalty += penaltyEColi
	}

	score := 100 - penalty
	if score < 0 {
		score = 0
	}
	s.QualityScore = score
	s.OverallQuality = Classify(score)
	s.Issues = e.buildIssues(&s)

	return s
}

// Classify maps a quality score to its category.
func Classify(score int) Overall {
	switch {
	case score >= 90:
		return OverallExcellent
	case score >= 75:
		return OverallGood
	case score >= 60:
		return OverallAcceptable
	case score >= 40:
		return OverallPoor
	default:
		return OverallUnacceptable
	}
}

func (e *Engine) buildIssues(s *Sample) []Issue {
	var issues []Issue

	if s.Bacteriological.EColi.Value > 0 {
		issues = append(issues, Issue{
			Parameter:      "eColi",
			Severity:       SeverityCritical,
			Description:    fmt.Sprintf("E. coli detected (%.0f CFU/100mL); water is unsafe for consumption", s.Bacteriological.EColi.Value),
			Recommendation: "Issue a boil-water advisory for the affected zone and shock-chlorinate the supply line",
		})
	}
	if s.Bacteriological.FecalColiform.Value > 0 {
		issues = append(issues, Issue{
			Parameter:      "fecalColiform",
			Severity:       SeverityCritical,
			Description:    fmt.Sprintf("fecal coliform detected (%.0f CFU/100mL)", s.Bacteriological.FecalColiform.Value),
			Recommendation: "Inspect the distribution line for sewage intrusion and disinfect",
		})
	}
	if s.Bacteriological.TotalColiform.Value > 0 {
		issues = append(issues, Issue{
			Parameter:      "totalColiform",
			Severity:       SeverityCritical,
			Description:    fmt.Sprintf("total coliform count %.0f CFU/100mL exceeds zero-tolerance limit", s.Bacteriological.TotalColiform.Value),
			Recommendation: "Re-sample immediately and verify chlorination at the nearest treatment point",
		})
	}
	if s.Chemical.PH.Value < phMin || s.Chemical.PH.Value > phMax {
		issues = append(issues, Issue{
			Parameter:      "ph",
			Severity:       SeverityHigh,
			Description:    fmt.Sprintf("pH %.2f is outside the acceptable range [%.1f, %.1f]", s.Chemical.PH.Value, phMin, phMax),
			Recommendation: "Check dosing at the treatment plant; corrosive or scaling water damages the network",
		})
	}
	if s.Chemical.ResidualChlorine.Value < chlorineMin {
		issues = append(issues, Issue{
			Parameter:      "residualChlorine",
			Severity:       SeverityHigh,
			Description:    fmt.Sprintf("residual chlorine %.2f mg/L is below the required minimum %.1f mg/L", s.Chemical.ResidualChlorine.Value, chlorineMin),
			Recommendation: "Increase chlorine dosing; low residual leaves the line vulnerable to recontamination",
		})
	}
	if s.Physical.Turbidity.Value > turbidityMarginal {
		issues = append(issues, Issue{
			Parameter:      "turbidity",
			Severity:       SeverityMedium,
			Description:    fmt.Sprintf("turbidity %.1f NTU exceeds %.0f NTU", s.Physical.Turbidity.Value, turbidityMarginal),
			Recommendation: "Flush the line and check filter performance at the treatment plant",
		})
	}

	// Remaining limited parameters contribute a low-severity issue when they
	// exceed their configured limit.
	for _, p := range []struct {
		name  string
		param Parameter
	}{
		{"tds", s.Chemical.TDS},
		{"hardness", s.Chemical.Hardness},
		{"chloride", s.Chemical.Chloride},
		{"sulfate", s.Chemical.Sulfate},
		{"fluoride", s.Chemical.Fluoride},
		{"nitrate", s.Chemical.Nitrate},
		{"color", s.Physical.Color},
		{"odor", s.Physical.Odor},
		{"taste", s.Physical.Taste},
	} {
		if p.param.Limit > 0 && p.param.Value > p.param.Limit {
			issues = append(issues, Issue{
				Parameter:      p.name,
				Severity:       SeverityLow,
				Description:    fmt.Sprintf("%s %.2f %s exceeds limit %.2f %s", p.name, p.param.Value, p.param.Unit, p.param.Limit, p.param.Unit),
				Recommendation: fmt.Sprintf("Schedule a confirmation sample for %s at this location", p.name),
			})
		}
	}

	// Deterministic order: severity first, parameter name as tiebreaker.
	sort.SliceStable(issues, func(i, j int) bool {
		if severityRank[issues[i].Severity] != severityRank[issues[j].Severity] {
			return severityRank[issues[i].Severity] < severityRank[issues[j].Severity]
		}
		return issues[i].Parameter < issues[j].Parameter
	})

	return issues
}

// phStatus: acceptable in [6.5, 8.5], marginal in [6.0, 6.5) and (8.5, 9.0],
// unacceptable outside.
func phStatus(v float64) Status {
	if v >= phMin && v <= phMax {
		return StatusAcceptable
	}
	if v >= phMarginLow && v <= phMarginHigh {
		return StatusMarginal
	}
	return StatusUnacceptable
}

// turbidityStatus: acceptable up to 1 NTU, marginal up to 5, unacceptable
// above.
func turbidityStatus(v float64) Status {
	if v <= turbidityLimit {
		return StatusAcceptable
	}
	if v <= turbidityMarginal {
		return StatusMarginal
	}
	return StatusUnacceptable
}

// limitStatus is the binary pass/fail check for parameters declared with a
// single limit and no marginal band. No configured limit means the value is
// informational and always acceptable.
func limitStatus(v, limit float64) Status {
	if limit <= 0 || v <= limit {
		return StatusAcceptable
	}
	return StatusUnacceptable
}

// minStatus checks a required-minimum parameter.
func minStatus(v, min float64) Status {
	if min <= 0 || v >= min {
		return StatusAcceptable
	}
	return StatusUnacceptable
}

// zeroToleranceStatus: acceptable iff the count is exactly zero.
func zeroToleranceStatus(v float64) Status {
	if v == 0 {
		return StatusAcceptable
	}
	return StatusUnacceptable
}
