package insights

import (
	"math"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/yourorg/practice-insights/internal/model"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// formatCurrency renders whole US dollars with thousands separators, e.g. "$10,000".
func formatCurrency(v float64) string {
	dollars := int64(math.Round(math.Abs(v)))
	s := printer.Sprintf("$%d", dollars)
	if v < 0 && dollars != 0 {
		return "-" + s
	}
	return s
}

// formatPercent renders one decimal place without the percent sign.
func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// formatNumber renders the shortest exact representation.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var metricNames = map[string]string{
	"collectionRate":     "Collection Rate",
	"caseAcceptance":     "Case Acceptance",
	"chairUtilization":   "Chair Utilization",
	"noShowRate":         "No-Show Rate",
	"retentionRate":      "Patient Retention",
	"avgWaitTime":        "Average Wait Time",
	"scheduleAdherence":  "Schedule Adherence",
	"newPatients":        "New Patients",
	"monthlyProduction":  "Monthly Production",
	"implantSuccessRate": "Implant Success Rate",
	"tmjSuccessRate":     "TMJ Treatment Success",
}

var metricCategories = map[string]model.InsightCategory{
	"collectionRate":     model.InsightFinancial,
	"caseAcceptance":     model.InsightFinancial,
	"monthlyProduction":  model.InsightFinancial,
	"chairUtilization":   model.InsightOperational,
	"noShowRate":         model.InsightOperational,
	"avgWaitTime":        model.InsightOperational,
	"scheduleAdherence":  model.InsightOperational,
	"retentionRate":      model.InsightPatient,
	"newPatients":        model.InsightPatient,
	"implantSuccessRate": model.InsightClinical,
	"tmjSuccessRate":     model.InsightClinical,
}

func metricName(metric string) string {
	if name, ok := metricNames[metric]; ok {
		return name
	}
	return metric
}

// benchmarkCategory maps a benchmark category onto an insight category.
// Specialty metrics are reported as clinical.
func benchmarkCategory(category string) model.InsightCategory {
	switch model.Category(category) {
	case model.CategorySubdomain:
		return model.InsightClinical
	case model.CategoryFinancial:
		return model.InsightFinancial
	case model.CategoryPatient:
		return model.InsightPatient
	case model.CategoryOperational:
		return model.InsightOperational
	}
	if model.InsightCategory(category) == model.InsightClinical {
		return model.InsightClinical
	}
	return model.InsightOperational
}

func changeOf(m model.MetricResult) *float64 {
	if m.ChangePercent == nil {
		return nil
	}
	c := *m.ChangePercent
	return &c
}
