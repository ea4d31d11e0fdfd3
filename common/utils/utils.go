package utils

import (
	"os"
)

// GetEnv returns the value of the environment variable with the given name, or def if it is unset or empty.
func GetEnv(name string, def string) string {
	val := os.Getenv(name)
	if len(val) > 0 {
		return val
	} else {
		return def
	}
}
