// Package credentials implements the credential lifecycle: create-vs-update
// semantics over the secret store, status tracking, and redaction of
// sensitive fields at the response boundary.
package credentials

import "encoding/json"

// Mask is the fixed-length placeholder substituted for sensitive values in
// redacted representations. Callers can rely on its exact shape.
const Mask = "********"

// Secret wraps a sensitive string value. Its fmt and JSON representations
// always render [Mask]; the raw value is only reachable through an explicit
// Reveal call. This makes redaction-at-the-boundary a property of the type
// system rather than a convention.
type Secret string

// String implements fmt.Stringer and always returns the mask.
func (Secret) String() string {
	return Mask
}

// GoString masks the value under %#v as well.
func (Secret) GoString() string {
	return Mask
}

// MarshalJSON serializes the mask, never the raw value.
func (Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(Mask)
}

// UnmarshalJSON reads the raw value from JSON input.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Secret(raw)
	return nil
}

// Reveal returns the raw value. Call sites of Reveal are the complete set of
// places where a secret can leave the type.
func (s Secret) Reveal() string {
	return string(s)
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s == ""
}

// sensitiveFields is the set of credential field names whose values are
// masked in redacted reads.
var sensitiveFields = map[string]struct{}{
	"clientSecret":   {},
	"consumerSecret": {},
	"password":       {},
	"securityToken":  {},
	"accessToken":    {},
	"refreshToken":   {},
	"privateKey":     {},
	"apiToken":       {},
}

// IsSensitiveField reports whether values stored under the given field name
// are masked in redacted representations.
func IsSensitiveField(name string) bool {
	_, ok := sensitiveFields[name]
	return ok
}
