package bus

import "reflect"

// Filter selects messages by sender, recipient, type, and metadata.
// Zero-valued fields match anything; set fields must all match.
type Filter struct {
	Sender    string
	Recipient string
	Type      string
	Metadata  map[string]any
}

// Matches reports whether the message satisfies every set criterion.
func (f Filter) Matches(m *Message) bool {
	if f.Sender != "" && m.Sender != f.Sender {
		return false
	}
	if f.Recipient != "" && m.Recipient != f.Recipient {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	for key, want := range f.Metadata {
		// DeepEqual: metadata values may be slices or maps, which
		// panic under ==.
		got, ok := m.Metadata[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
