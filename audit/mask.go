package audit

// Redacted replaces the value of every hidden field in stored payloads.
const Redacted = "******"

// Masker redacts configured fields from value maps.
type Masker struct {
	hidden map[string]struct{}
}

func NewMasker(hidden []string) *Masker {
	m := &Masker{hidden: make(map[string]struct{}, len(hidden))}
	for _, field := range hidden {
		m.hidden[field] = struct{}{}
	}
	return m
}

// Mask returns a shallow copy of v with hidden fields redacted. nil stays nil
// and the input is never modified.
func (m *Masker) Mask(v Values) Values {
	if v == nil {
		return nil
	}
	out := v.Clone()
	for key := range out {
		if _, ok := m.hidden[key]; ok {
			out[key] = Redacted
		}
	}
	return out
}
