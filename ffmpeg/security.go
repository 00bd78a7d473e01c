package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// ParseExtraArgs splits configured encoder arguments and rejects anything that
// could add inputs, redirect outputs or smuggle shell syntax.
func ParseExtraArgs(command string) ([]string, error) {
	args, err := SplitCommand(command)
	if err != nil {
		return nil, err
	}
	if err := ValidateExtraArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}

func ValidateExtraArgs(args []string) error {
	for _, arg := range args {
		switch arg {
		case "-i", "-y", "-n", "-filter_complex", "-map":
			return fmt.Errorf("argument %s is managed by the exporter", arg)
		}
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
