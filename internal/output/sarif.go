package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dshills/lens/internal/review"
	"github.com/dshills/lens/internal/validators"
)

// SARIFWriter outputs validator issues, failed checks and failed sessions in
// SARIF v2.1.0 format. Each result points at the reviewed function.
type SARIFWriter struct{}

func (s *SARIFWriter) Write(w io.Writer, report *review.Report) error {
	sarif := buildSARIF(report)
	data, err := json.MarshalIndent(sarif, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling SARIF: %w", err)
	}
	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("writing SARIF: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}

// SARIF schema types (v2.1.0)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	ShortDescription sarifMessage       `json:"shortDescription"`
	DefaultConfig    sarifDefaultConfig `json:"defaultConfiguration"`
}

type sarifDefaultConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`
}

const ruleSession = "lens/session-error"

func buildSARIF(report *review.Report) sarifLog {
	var rules []sarifRule
	seen := make(map[string]bool)
	addRule := func(id, name, desc, level string) {
		if seen[id] {
			return
		}
		seen[id] = true
		rules = append(rules, sarifRule{
			ID:               id,
			Name:             name,
			ShortDescription: sarifMessage{Text: desc},
			DefaultConfig:    sarifDefaultConfig{Level: level},
		})
	}

	results := []sarifResult{}
	for _, sr := range report.Sessions {
		loc := []sarifLocation{{
			PhysicalLocation: sarifPhysicalLocation{
				ArtifactLocation: sarifArtifactLocation{URI: sr.File},
				Region:           sarifRegion{StartLine: sr.Start, EndLine: sr.End},
			},
		}}
		for _, f := range sr.Findings {
			if f.Status == validators.StatusOK {
				continue
			}
			id := ruleID(f.Validator)
			addRule(id, f.Validator, fmt.Sprintf("%s check", f.Validator), "warning")
			text := f.Message
			level := statusToLevel(f.Status)
			if f.Status == validators.StatusError {
				text = "check failed: " + f.Message
			}
			results = append(results, sarifResult{
				RuleID:    id,
				Level:     level,
				Message:   sarifMessage{Text: fmt.Sprintf("%s: %s", sr.Function, text)},
				Locations: loc,
			})
		}
		if sr.State == review.StateErrored {
			addRule(ruleSession, "session-error", "review of the function failed", "error")
			results = append(results, sarifResult{
				RuleID:    ruleSession,
				Level:     "error",
				Message:   sarifMessage{Text: fmt.Sprintf("%s: %s", sr.Function, sr.Error)},
				Locations: loc,
			})
		}
	}

	return sarifLog{
		Version: "2.1.0",
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json",
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:           "lens",
						Version:        report.Version,
						InformationURI: "https://github.com/dshills/lens",
						Rules:          rules,
					},
				},
				Results: results,
			},
		},
	}
}

// statusToLevel maps a finding status to a SARIF level.
func statusToLevel(s validators.Status) string {
	if s == validators.StatusIssue {
		return "warning"
	}
	return "note"
}

func ruleID(validator string) string {
	return "lens/" + validator
}
