package config

// SecretStringValue replaces real secrets in any serialized output.
const SecretStringValue = "<secret>"

// SecretString holds credentials that must never surface in logs or
// configuration dumps. Only Value returns the real content.
type SecretString string

// Value returns the actual secret.
func (s SecretString) Value() string {
	return string(s)
}

// MarshalJSON substitutes the secret with a fixed placeholder.
func (s SecretString) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return []byte("\"" + SecretStringValue + "\""), nil
}

// MarshalYAML substitutes the secret with a fixed placeholder.
func (s SecretString) MarshalYAML() (any, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return SecretStringValue, nil
}
