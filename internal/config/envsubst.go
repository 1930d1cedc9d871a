package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// MissingVarError reports a ${VAR:?message} reference to an unset variable.
type MissingVarError struct {
	Name    string
	Message string
}

func (e *MissingVarError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s is not set", e.Name)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// ExpandEnvVars substitutes ${VAR}, ${VAR:-default} and ${VAR:?message}
// references. An unset plain reference becomes empty. Every unset required
// variable is reported; the first is the wrapped error.
func ExpandEnvVars(input string) (string, error) {
	var missing []string
	var firstMissing *MissingVarError

	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, op, arg := sub[1], sub[2], sub[3]

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		switch op {
		case "-":
			return arg
		case "?":
			if firstMissing == nil {
				firstMissing = &MissingVarError{Name: name, Message: arg}
			}
			missing = append(missing, (&MissingVarError{Name: name, Message: arg}).Error())
		}
		return ""
	})

	switch len(missing) {
	case 0:
		return out, nil
	case 1:
		return "", firstMissing
	default:
		return "", fmt.Errorf("%w (and %d more: %s)", firstMissing, len(missing)-1, strings.Join(missing[1:], "; "))
	}
}

func ExpandEnvVarsBytes(input []byte) ([]byte, error) {
	out, err := ExpandEnvVars(string(input))
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}
