package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidJSON is returned when an import is not parseable JSON.
	ErrInvalidJSON = errors.New("invalid JSON")
	// ErrNoCondition is returned when neither the document nor any bundle
	// entry is a Condition.
	ErrNoCondition = errors.New("no Condition found")
)

type importedCoding struct {
	System string `json:"system"`
	Code   string `json:"code"`
}

type importedConcept struct {
	Coding []importedCoding `json:"coding"`
}

type importedCondition struct {
	ResourceType string `json:"resourceType"`
	Subject      struct {
		Reference string `json:"reference"`
	} `json:"subject"`
	ClinicalStatus     importedConcept `json:"clinicalStatus"`
	VerificationStatus importedConcept `json:"verificationStatus"`
	Code               importedConcept `json:"code"`
}

type importedDoc struct {
	importedCondition
	Entry []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// Imported is what an uploaded Condition or Bundle contributes to the form.
// Empty fields were not present in the document.
type Imported struct {
	Source             string `json:"source"`
	PatientRef         string `json:"patientRef,omitempty"`
	ClinicalStatus     string `json:"clinicalStatus,omitempty"`
	VerificationStatus string `json:"verificationStatus,omitempty"`
	Prefill
}

// Apply overlays the imported values onto in.
func (im Imported) Apply(in ConditionInput) ConditionInput {
	if im.PatientRef != "" {
		in.PatientRef = im.PatientRef
	}
	if im.ClinicalStatus != "" {
		in.ClinicalStatus = im.ClinicalStatus
	}
	if im.VerificationStatus != "" {
		in.VerificationStatus = im.VerificationStatus
	}
	return in.WithPrefill(im.Prefill)
}

// ExtractCodes reads a Condition, or the first Condition entry of a Bundle,
// and classifies its codings by system.
func ExtractCodes(raw []byte) (Imported, error) {
	var doc importedDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Imported{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	switch doc.ResourceType {
	case "Condition":
		return fromCondition(doc.importedCondition, "Condition"), nil
	case "Bundle":
		for _, e := range doc.Entry {
			var c importedCondition
			if err := json.Unmarshal(e.Resource, &c); err != nil {
				continue
			}
			if c.ResourceType == "Condition" {
				return fromCondition(c, "Bundle"), nil
			}
		}
	}
	return Imported{}, ErrNoCondition
}

func fromCondition(c importedCondition, source string) Imported {
	im := Imported{Source: source, PatientRef: c.Subject.Reference}
	if len(c.ClinicalStatus.Coding) > 0 {
		im.ClinicalStatus = c.ClinicalStatus.Coding[0].Code
	}
	if len(c.VerificationStatus.Coding) > 0 {
		im.VerificationStatus = c.VerificationStatus.Coding[0].Code
	}
	im.Prefill = classifyCodings(c.Code.Coding)
	return im
}

// classifyCodings keeps the first code per slot. A system naming "icd"
// without "tm2" or "traditional" counts as biomedical.
func classifyCodings(codings []importedCoding) Prefill {
	var p Prefill
	for _, c := range codings {
		if c.Code == "" {
			continue
		}
		sys := strings.ToLower(c.System)
		switch {
		case strings.Contains(sys, "namaste"):
			if p.Namaste == "" {
				p.Namaste = c.Code
			}
		case strings.Contains(sys, "tm2"), strings.Contains(sys, "traditional"):
			if p.TM2 == "" {
				p.TM2 = c.Code
			}
		case strings.Contains(sys, "biomed"), strings.Contains(sys, "icd"):
			if p.Biomed == "" {
				p.Biomed = c.Code
			}
		}
	}
	return p
}

// PrefillFromCondition classifies the codings of a built condition.
func PrefillFromCondition(c Condition) Prefill {
	if c.Code == nil {
		return Prefill{}
	}
	codings := make([]importedCoding, 0, len(c.Code.Coding))
	for _, cd := range c.Code.Coding {
		codings = append(codings, importedCoding{System: cd.System, Code: cd.Code})
	}
	return classifyCodings(codings)
}
