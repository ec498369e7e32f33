package catalog

import "strings"

// CodeEntry is one coded term in one coding system. Mapped is derived from the
// mapping ledger at read time and never stored with the dataset.
type CodeEntry struct {
	Code   string `json:"code"`
	Term   string `json:"term"`
	System string `json:"system"`
	Mapped bool   `json:"mapped"`
}

// Key returns the "SYSTEM:code" identity of the entry.
func (e CodeEntry) Key() string {
	return e.System + ":" + e.Code
}

// Coding-system tags.
const (
	SystemNamaste = "NAMASTE"
	SystemICD11   = "ICD-11"
	SystemTM2     = "TM2"
	SystemBiomed  = "BIO"
)

// Direction selects which side of a mapping is the source.
type Direction string

const (
	// ToClassification maps NAMASTE terms onto ICD-11, TM2 and biomedical codes.
	ToClassification Direction = "toClassification"
	// ToSource maps classification codes back onto NAMASTE terms.
	ToSource Direction = "toSource"
)

// ParseDirection accepts the two direction names; anything else, including the
// empty string, is ToClassification.
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(ToSource)) {
		return ToSource
	}
	return ToClassification
}

// FromSystem is the label recorded on mappings approved in this direction.
func (d Direction) FromSystem() string {
	if d == ToSource {
		return "ICD-11/TM2/BIO"
	}
	return SystemNamaste
}

// NormalizeSystem upper-cases and trims a system tag.
func NormalizeSystem(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsSource reports whether system is the primary traditional-medicine vocabulary.
func IsSource(system string) bool {
	return NormalizeSystem(system) == SystemNamaste
}

// IsClassification reports whether system is ICD-11, TM2 or any BIO* vocabulary.
func IsClassification(system string) bool {
	s := NormalizeSystem(system)
	return s == SystemICD11 || s == SystemTM2 || strings.HasPrefix(s, SystemBiomed)
}

// IsBiomed reports whether system is a BIO* vocabulary.
func IsBiomed(system string) bool {
	return strings.HasPrefix(NormalizeSystem(system), SystemBiomed)
}
