// Package fhir holds the small slice of FHIR R4 datatypes the workspace emits:
// coded concepts, references, bundles and OperationOutcome error bodies.
package fhir

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

// OperationOutcome severity levels.
const (
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes used by the workspace.
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeRequired     = "required"
	IssueTypeNotFound     = "not-found"
	IssueTypeProcessing   = "processing"
	IssueTypeBusinessRule = "business-rule"
	IssueTypeTransient    = "transient"
)

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, resourceType+"/"+id+" not found")
}

// UnavailableOutcome reports a dependency that is down or not configured.
func UnavailableOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeTransient, diagnostics)
}

// ValidationIssue is one problem found while checking user input.
type ValidationIssue struct {
	Severity    string
	Code        string
	Location    string
	Diagnostics string
}

// MultiValidationOutcome creates an OperationOutcome containing one issue per
// ValidationIssue. An empty list yields a single informational "ok" issue.
func MultiValidationOutcome(issues []ValidationIssue) *OperationOutcome {
	if len(issues) == 0 {
		return NewOperationOutcome(IssueSeverityInformation, "informational", "All OK")
	}
	ooIssues := make([]OperationOutcomeIssue, 0, len(issues))
	for _, vi := range issues {
		issue := OperationOutcomeIssue{
			Severity:    vi.Severity,
			Code:        vi.Code,
			Diagnostics: vi.Diagnostics,
		}
		if vi.Location != "" {
			issue.Expression = []string{vi.Location}
		}
		ooIssues = append(ooIssues, issue)
	}
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue:        ooIssues,
	}
}
