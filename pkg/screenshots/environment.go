package screenshots

const providerSynthetic = "synthetic"

// Environment describes screenshot capture availability.
type Environment struct {
	Provider  string
	Available bool
	Message   string
}

// DetectEnvironment reports the screenshot backend in use. Native capture
// backends plug in through CaptureProvider; the built-in backend is the
// synthetic renderer.
func DetectEnvironment() Environment {
	return Environment{
		Provider:  providerSynthetic,
		Available: true,
		Message:   "synthetic screen frames",
	}
}

// DefaultProvider returns the provider matching DetectEnvironment.
func DefaultProvider(width, height int) CaptureProvider {
	return NewSyntheticProvider(width, height)
}
