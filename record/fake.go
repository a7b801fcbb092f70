package record

// Fake is an in-memory Reader used by tests to build record fixtures
// without a real record-library binding.
type Fake struct {
	Occurrences []RawOccurrence
	Closed      bool
}

func (f *Fake) AllOccurrences() ([]RawOccurrence, error) { return f.Occurrences, nil }

func (f *Fake) Close() error {
	f.Closed = true
	return nil
}

// NewFakeProvider wraps a Fake in a Provider for direct use in tests.
func NewFakeProvider(name string, fake *Fake) *Provider {
	return NewProvider(name, func() (Reader, error) { return fake, nil })
}
