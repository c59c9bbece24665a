// Package config loads the daemon's redapid.yaml configuration and handles
// program.conf persistence for internal/objects/progobj.
package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default}, same as the teacher's
// cli/config/envexpand.go.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} in input with the matching
// environment variable, or its default, or an empty string if unset and no
// default is given. Unset-without-default is intentionally not an error:
// a daemon config referencing a missing secret fails later at whatever
// actually needs the value (e.g. a webhook adapter with an empty URL),
// which is a clearer failure than refusing to even parse the file.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}

		value, ok := os.LookupEnv(groups[1])
		if ok && value != "" {
			return value
		}
		if len(groups) >= 3 && groups[2] != "" {
			return groups[2]
		}
		return ""
	})
}
