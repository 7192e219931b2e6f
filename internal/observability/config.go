package observability

// Config holds OpenTelemetry configuration.
type Config struct {
	// Exporter type: "none", "stdout", or "otlp"
	Exporter string

	// OTLP collector endpoint (gRPC)
	Endpoint string

	ServiceName string

	// Trace sampling rate (0.0 to 1.0)
	SampleRate float64

	MetricsEnabled bool
	TracesEnabled  bool
}

// NewConfig returns the default configuration, which exports nothing.
func NewConfig() *Config {
	return &Config{
		Exporter:    "none",
		Endpoint:    "localhost:4317",
		ServiceName: "mentionbot",
		SampleRate:  0.1,
	}
}

// ShouldEnable returns true if OTel should be initialized.
func (c *Config) ShouldEnable() bool {
	return c.Exporter != "" && c.Exporter != "none" && (c.MetricsEnabled || c.TracesEnabled)
}
