package logger

import "io"

// Config controls the global logger.
type Config struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error (default: info)
	Format string `yaml:"format" json:"format"` // text or json (default: text)

	// Output overrides stdout; tests point it at a buffer.
	Output io.Writer `yaml:"-" json:"-"`
}

// SetDefaults fills empty fields.
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}
