// Package config handles loading and validating lhkeeper configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with environment variables (LHKEEPER_SECTION_KEY)
//   - Overriding with command-line flags, supplied as Override functions
//   - Validation of every field, reported in a single error
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("/etc/lhkeeper/config.yaml", func(c *config.Config) {
//	    c.Lighthouse.ID = "LHB-DEADBEEF"
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.WakeCommand())
package config
