package main

import (
	"os"
	"strings"
)

func envFlagEnabled(name string) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func testModeEnabled() bool {
	return envFlagEnabled("CANOPY_TEST_MODE")
}

// colorDisabled honors the NO_COLOR convention: any non-empty value.
func colorDisabled() bool {
	return strings.TrimSpace(os.Getenv("NO_COLOR")) != ""
}
