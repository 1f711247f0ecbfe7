// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files, a .env file and RUNBOX_ environment
// variables. It covers the server transport, the sandbox policy (image,
// entry point, memory ceiling, time budget cap), logging, auth and metrics.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox backend: %s\n", cfg.Sandbox.Backend)
package config
