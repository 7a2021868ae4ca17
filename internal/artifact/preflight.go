package artifact

import "github.com/quantforge/backtestcore/internal/builder"

// WritePreflightReportJSON writes a builder.PreflightReport as
// `preflight_report.json` (spec §6: "coverage, gaps, auto-sync
// attempts").
func WritePreflightReportJSON(path string, report *builder.PreflightReport) error {
	return writeJSON(path, report)
}
