// Package contact defines the contact read model consumed by the engine and
// the provider interface the engine mutates contacts through.
package contact

// Snapshot is a point-in-time read model of one contact: standard
// attributes, the custom-field map, tag set and list memberships. Condition
// evaluation and template rendering operate on snapshots only.
type Snapshot struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	ListIDs      []int64           `json:"list_ids,omitempty"`
}

// Field resolves a named attribute with an ordered fallback: custom-field
// map first, then standard attributes, then "email". Returns false when the
// name resolves nowhere.
func (s *Snapshot) Field(name string) (string, bool) {
	if value, ok := s.CustomFields[name]; ok {
		return value, true
	}

	if value, ok := s.Attributes[name]; ok {
		return value, true
	}

	if name == "email" {
		return s.Email, true
	}

	return "", false
}

// FieldOrDefault resolves a named attribute, returning def when unset.
func (s *Snapshot) FieldOrDefault(name, def string) string {
	if value, ok := s.Field(name); ok {
		return value
	}

	return def
}

// HasTag reports tag membership.
func (s *Snapshot) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// InList reports list membership.
func (s *Snapshot) InList(listID int64) bool {
	for _, id := range s.ListIDs {
		if id == listID {
			return true
		}
	}

	return false
}

// TemplateData flattens the snapshot for template rendering.
func (s *Snapshot) TemplateData() map[string]any {
	fields := make(map[string]any, len(s.Attributes)+len(s.CustomFields)+2)

	for k, v := range s.Attributes {
		fields[k] = v
	}

	for k, v := range s.CustomFields {
		fields[k] = v
	}

	fields["id"] = s.ID
	fields["email"] = s.Email

	return fields
}
