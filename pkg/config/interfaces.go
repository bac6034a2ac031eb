package config

// Validator interface for configurations that need validation.
type Validator interface {
	Validate() error
}

// EnvOverrider lets a configuration pull selected settings from the
// environment after the file has been loaded.
type EnvOverrider interface {
	ApplyEnv()
}
