package config

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Address:            "",
		DefaultContentType: "",
		SaveCookies:        boolPtr(false),
		Verbose:            boolPtr(false),
		NoColor:            boolPtr(false),
	}
}

// IsDefault returns true if the config matches defaults
func (c *Config) IsDefault() bool {
	defaults := DefaultConfig()
	return c.Address == defaults.Address &&
		c.DefaultContentType == defaults.DefaultContentType &&
		c.GetSaveCookies() == defaults.GetSaveCookies() &&
		c.GetVerbose() == defaults.GetVerbose() &&
		c.GetNoColor() == defaults.GetNoColor()
}
