// Package config loads conduit runtime configuration. Default() gives the
// built-in baseline; Load layers a json, yaml or toml file and CONDUIT_*
// environment variables on top of it using viper.
//
// Example:
//
//	cfg, err := config.Load("/etc/conduit.yaml")
//	if err != nil {
//	    return err
//	}
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
package config
