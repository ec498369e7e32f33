package record

import (
	"regexp"
	"strings"

	"github.com/vaidyasetu/vaidyasetu/internal/platform/fhir"
)

// Coding systems written into built conditions.
const (
	SystemNamasteURI       = "urn:example:namaste"
	SystemTM2URI           = "urn:example:icd11-tm2"
	SystemBiomedURI        = "urn:example:icd11-biomed"
	SystemCategoryURI      = "urn:example:category"
	SystemClinicalStatus   = "http://terminology.hl7.org/CodeSystem/condition-clinical"
	SystemVerificationStat = "http://terminology.hl7.org/CodeSystem/condition-ver-status"
	DefaultSubject         = "Patient/unknown"
)

// Condition is the subset of the FHIR Condition resource the builder emits.
type Condition struct {
	ResourceType       string                 `json:"resourceType"`
	ID                 string                 `json:"id,omitempty"`
	Subject            fhir.Reference         `json:"subject"`
	ClinicalStatus     fhir.CodeableConcept   `json:"clinicalStatus"`
	VerificationStatus fhir.CodeableConcept   `json:"verificationStatus"`
	Category           []fhir.CodeableConcept `json:"category"`
	Code               *fhir.CodeableConcept  `json:"code,omitempty"`
}

// ConditionInput is what the clinician fills in.
type ConditionInput struct {
	PatientRef         string `json:"patientRef"`
	ClinicalStatus     string `json:"clinicalStatus"`
	VerificationStatus string `json:"verificationStatus"`
	Namaste            string `json:"namaste"`
	TM2                string `json:"tm2"`
	Biomed             string `json:"biomed"`
}

// Trim removes surrounding whitespace from every field.
func (in ConditionInput) Trim() ConditionInput {
	return ConditionInput{
		PatientRef:         strings.TrimSpace(in.PatientRef),
		ClinicalStatus:     strings.TrimSpace(in.ClinicalStatus),
		VerificationStatus: strings.TrimSpace(in.VerificationStatus),
		Namaste:            strings.TrimSpace(in.Namaste),
		TM2:                strings.TrimSpace(in.TM2),
		Biomed:             strings.TrimSpace(in.Biomed),
	}
}

// WithPrefill overlays the non-empty codes of p.
func (in ConditionInput) WithPrefill(p Prefill) ConditionInput {
	if p.Namaste != "" {
		in.Namaste = p.Namaste
	}
	if p.TM2 != "" {
		in.TM2 = p.TM2
	}
	if p.Biomed != "" {
		in.Biomed = p.Biomed
	}
	return in
}

// BuildCondition renders in as a dual-coded Condition. Codings appear in
// NAMASTE, TM2, biomedical order; the code element is omitted when none is set.
func BuildCondition(in ConditionInput) Condition {
	in = in.Trim()
	subject := in.PatientRef
	if subject == "" {
		subject = DefaultSubject
	}

	var codings []fhir.Coding
	if in.Namaste != "" {
		codings = append(codings, fhir.Coding{System: SystemNamasteURI, Code: in.Namaste, Display: "NAMASTE code"})
	}
	if in.TM2 != "" {
		codings = append(codings, fhir.Coding{System: SystemTM2URI, Code: in.TM2, Display: "ICD-11 TM2"})
	}
	if in.Biomed != "" {
		codings = append(codings, fhir.Coding{System: SystemBiomedURI, Code: in.Biomed, Display: "ICD-11 Biomed"})
	}

	c := Condition{
		ResourceType:       "Condition",
		Subject:            fhir.Reference{Reference: subject},
		ClinicalStatus:     fhir.CodeableConcept{Coding: []fhir.Coding{{System: SystemClinicalStatus, Code: in.ClinicalStatus}}},
		VerificationStatus: fhir.CodeableConcept{Coding: []fhir.Coding{{System: SystemVerificationStat, Code: in.VerificationStatus}}},
		Category: []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{System: SystemCategoryURI, Code: "tm", Display: "Traditional Medicine"}},
		}},
	}
	if len(codings) > 0 {
		c.Code = &fhir.CodeableConcept{Coding: codings}
	}
	return c
}

// Validation statuses.
const (
	StatusValid = "valid"
	StatusWarn  = "warn"
	StatusError = "error"
)

// Validation is one inline check result.
type Validation struct {
	Field   string `json:"field"`
	Status  string `json:"status"`
	Message string `json:"msg"`
}

var patientRefPattern = regexp.MustCompile(`^Patient/[A-Za-z0-9._-]+$`)

// Validate runs the inline checks shown next to the builder form.
func Validate(in ConditionInput) []Validation {
	in = in.Trim()
	var v []Validation
	if patientRefPattern.MatchString(in.PatientRef) {
		v = append(v, Validation{"Patient Reference", StatusValid, "Looks good."})
	} else {
		v = append(v, Validation{"Patient Reference", StatusError, "Expected format like 'Patient/123'."})
	}

	v = append(v, required("Clinical Status", in.ClinicalStatus))
	v = append(v, required("Verification Status", in.VerificationStatus))

	if in.Biomed == "" {
		v = append(v, Validation{"ICD-11 Biomed", StatusWarn, "Missing biomedical code may affect interoperability."})
	} else {
		v = append(v, Validation{"ICD-11 Biomed", StatusValid, in.Biomed})
	}

	if in.Namaste == "" && in.TM2 == "" && in.Biomed == "" {
		v = append(v, Validation{"Dual Coding", StatusWarn, "Add at least one coding (NAMASTE/TM2/Biomed)."})
	}
	return v
}

func required(field, value string) Validation {
	if value == "" {
		return Validation{field, StatusError, "Required."}
	}
	return Validation{field, StatusValid, value}
}

// HasErrors reports whether any validation failed outright.
func HasErrors(vs []Validation) bool {
	for _, v := range vs {
		if v.Status == StatusError {
			return true
		}
	}
	return false
}

// Outcome converts validations into an OperationOutcome, skipping passes.
func Outcome(vs []Validation) *fhir.OperationOutcome {
	issues := make([]fhir.ValidationIssue, 0, len(vs))
	for _, v := range vs {
		switch v.Status {
		case StatusError:
			issues = append(issues, fhir.ValidationIssue{Severity: fhir.IssueSeverityError, Code: fhir.IssueTypeRequired, Diagnostics: v.Message, Location: v.Field})
		case StatusWarn:
			issues = append(issues, fhir.ValidationIssue{Severity: fhir.IssueSeverityWarning, Code: fhir.IssueTypeBusinessRule, Diagnostics: v.Message, Location: v.Field})
		}
	}
	return fhir.MultiValidationOutcome(issues)
}
