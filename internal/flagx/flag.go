// Package flagx lets the gateway's config layer parse its own flags out of
// an argument list that may also carry flags for other components.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// Set names the flags to keep, without dashes. The value reports whether
// the flag takes an argument; boolean switches do not.
type Set map[string]bool

// FromFlagSet builds a Set from every flag defined on fs.
func FromFlagSet(fs *flag.FlagSet) Set {
	set := make(Set)
	fs.VisitAll(func(f *flag.Flag) {
		b, ok := f.Value.(interface{ IsBoolFlag() bool })
		set[f.Name] = !(ok && b.IsBoolFlag())
	})
	return set
}

// Filter returns the flags in args that belong to set, with their values,
// in their original order.
//
// "-u x", "--u x", "-u=x" and "--u=x" are all recognised. A switch never
// consumes the next token, and a token starting with "-" is never taken as
// a value. Everything after a bare "--" is dropped.
func Filter(args []string, set Set) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name, ok := flagName(arg)
		if !ok {
			continue
		}
		takesValue, known := set[name]
		if !known {
			continue
		}
		out = append(out, arg)
		if !takesValue || strings.Contains(arg, "=") {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// flagName strips the dashes and any "=value" from arg.
func flagName(arg string) (string, bool) {
	if !strings.HasPrefix(arg, "-") {
		return "", false
	}
	name := strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")
	name, _, _ = strings.Cut(name, "=")
	return name, name != ""
}

// ConfigFile extracts the JSON config path given with -c or -config.
// It returns "" when neither is present; the last occurrence wins.
func ConfigFile(args []string) string {
	var path string

	fs := flag.NewFlagSet("config-file", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(Filter(args, FromFlagSet(fs)))

	return path
}
