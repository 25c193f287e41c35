package runner

// Redacted replaces a sensitive argument in logs.
const Redacted = "***REDACTED***"

var (
	sensitiveFlags    = map[string]bool{"--password": true, "--raw": true}
	sensitiveCommands = map[string]bool{"unlock": true}
)

// RedactArgs returns a copy of args safe to log. The token following
// --password or --raw is masked, as is the token following the unlock
// subcommand when one exists. A masked token never triggers a rule itself.
//
// Only the positional form is recognized: "--password=secret" passes through
// unchanged. Callers must not build arguments in that form.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	skipNext := false

	for i, arg := range args {
		switch {
		case skipNext:
			out[i] = Redacted
			skipNext = false
		case sensitiveFlags[arg]:
			out[i] = arg
			skipNext = true
		case sensitiveCommands[arg] && i+1 < len(args):
			out[i] = arg
			skipNext = true
		default:
			out[i] = arg
		}
	}
	return out
}
