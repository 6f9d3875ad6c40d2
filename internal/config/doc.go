// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// A .env file next to the binary is loaded first when present, so local setups can
// keep secrets such as the database password out of the YAML file.
package config
