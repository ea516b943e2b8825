// Package flagx helps several flag sets share one command line.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs returns the subset of args that belong to the flags in allowed
// (and their values), so a FlagSet can parse its own flags without failing on
// flags owned by someone else.
//
// allowed maps a flag name as written on the command line ("-c", "--config")
// to whether it takes a value. Value flags accept both "-c conf.yaml" and
// "-c=conf.yaml"; boolean flags never consume the next argument.
func FilterArgs(args []string, allowed map[string]bool) []string {
	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		// "--flag=value" or "-f=value"
		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		takesValue, ok := allowed[arg]
		if !ok {
			continue
		}
		filtered = append(filtered, arg)
		if takesValue && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// ConfigFileFlag extracts the config file path given via -c or -config.
// If neither is present, an empty string is returned.
func ConfigFileFlag(args []string) string {
	var path string

	filtered := FilterArgs(args, map[string]bool{
		"-c": true, "--c": true, "-config": true, "--config": true,
	})

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = fs.Parse(filtered)

	return path
}
