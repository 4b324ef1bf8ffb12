// Package env reads typed configuration overrides from the environment.
package env

import (
	"log"
	"os"
	"strconv"
)

var logFatalf = log.Fatalf

func HasEnv(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

func OptionalStringVariable(name string, defaultValue string) string {
	if !HasEnv(name) {
		return defaultValue
	}
	return os.Getenv(name)
}

func OptionalIntVariable(name string, defaultValue int) int {
	if !HasEnv(name) {
		return defaultValue
	}
	value, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		logFatalf("Environment variable (%s) is not a valid int.", name)
	}
	return value
}

func OptionalInt64Variable(name string, defaultValue int64) int64 {
	if !HasEnv(name) {
		return defaultValue
	}
	value, err := strconv.ParseInt(os.Getenv(name), 10, 64)
	if err != nil {
		logFatalf("Environment variable (%s) is not a valid int64.", name)
	}
	return value
}

func OptionalFloatVariable(name string, defaultValue float64) float64 {
	if !HasEnv(name) {
		return defaultValue
	}
	value, err := strconv.ParseFloat(os.Getenv(name), 64)
	if err != nil {
		logFatalf("Environment variable (%s) is not a valid float.", name)
	}
	return value
}

func OptionalBoolVariable(name string, defaultValue bool) bool {
	if !HasEnv(name) {
		return defaultValue
	}
	value, err := strconv.ParseBool(os.Getenv(name))
	if err != nil {
		logFatalf("Environment variable (%s) is not a valid bool.", name)
	}
	return value
}
