package composer

import "strings"

// Fixed answers the model is instructed to give when the corpus has nothing
// usable.
const (
	NotAvailableMessage = "Information Not available in the database"

	GenericFallbackMessage = "This information is not available in the official protocols. " +
		"In such cases, follow standard emergency procedures:\n" +
		"- Stay calm and assess the situation.\n" +
		"- Ensure the safety of yourself and your unit.\n" +
		"- Follow general emergency protocols as trained.\n" +
		"- Seek immediate guidance from your commanding officer or emergency response teams."
)

// Shape is the kind of answer returned to the user.
type Shape string

const (
	ShapeProtocol        Shape = "protocol"
	ShapeNotAvailable    Shape = "not_available"
	ShapeGenericFallback Shape = "generic_fallback"
)

var (
	notAvailableMarker    = strings.ToLower(NotAvailableMessage)
	genericFallbackMarker = "not available in the official protocols"
	protocolHeadings      = []string{"step-by-step procedure", "protocol reference"}
)

// Classify reports which shape a model reply has. ok is false when the reply
// matches none of them.
func Classify(text string) (shape Shape, ok bool) {
	lower := strings.ToLower(text)
	if containsAll(lower, protocolHeadings) {
		return ShapeProtocol, true
	}
	if strings.Contains(lower, genericFallbackMarker) {
		return ShapeGenericFallback, true
	}
	if strings.Contains(lower, notAvailableMarker) {
		return ShapeNotAvailable, true
	}
	return "", false
}

// Normalize classifies text and returns what should be shown. Fallback
// replies are replaced by their canonical wording; a reply of unknown shape
// becomes the generic fallback.
func Normalize(text string) (Shape, string) {
	shape, ok := Classify(text)
	switch {
	case !ok:
		return ShapeGenericFallback, GenericFallbackMessage
	case shape == ShapeNotAvailable:
		return shape, NotAvailableMessage
	case shape == ShapeGenericFallback:
		return shape, GenericFallbackMessage
	default:
		return shape, strings.TrimSpace(text)
	}
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
