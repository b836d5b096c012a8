// Package config provides configuration management for the conduit control plane.
//
// Configuration is loaded from environment variables using the env package,
// after an optional .env file is read with godotenv. All values have defaults
// suitable for a single-node development setup on the in-memory backends.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
