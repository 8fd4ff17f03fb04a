// Package profile defines the self-declared attributes a client submits when
// it asks to be paired. All fields are optional and taken at face value; the
// service never verifies them.
package profile

// Gender is a self-declared attribute used by the compatibility scorer.
type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderUnspecified Gender = ""
)

// Coefficient maps a declared gender onto the scorer's pairing coefficient.
// Unknown values are treated as unspecified.
func (g Gender) Coefficient() int {
	switch g {
	case GenderMale:
		return 1
	case GenderFemale:
		return -1
	default:
		return 0
	}
}

// Profile is the attribute bag a client declares on join. Attrs carries any
// additional caller-defined fields; the core never interprets them, it only
// echoes them back to the matched partner.
type Profile struct {
	Gender Gender            `json:"gender,omitempty"`
	Status string            `json:"status,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}
