package util

import (
	"os"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to flag names to form their environment variable, e.g. log-level -> OTA_LOG_LEVEL
const EnvPrefix = "OTA_"

// SetFlagsFromEnvVars updates unset flags from systemd credentials or OTA_ prefixed environment variables
func SetFlagsFromEnvVars(cmd *cobra.Command) {
	credsDir, present := os.LookupEnv("CREDENTIALS_DIRECTORY")

	visit := func(flags *pflag.FlagSet, f *pflag.Flag) {
		if f.Changed {
			return
		}
		name := flagNameToUpper(f.Name)

		if present {
			data, e := os.ReadFile(path.Join(credsDir, name))
			if e == nil {
				err := flags.Set(f.Name, strings.TrimSuffix(string(data), "\n"))
				if err != nil {
					log.Infof("unable to configure flag %s using credential %s, err: %v", f.Name, name, err)
				} else {
					return
				}
			}
		}

		envName := EnvPrefix + name
		if value, varPresent := os.LookupEnv(envName); varPresent {
			if err := flags.Set(f.Name, value); err != nil {
				log.Infof("unable to configure flag %s using variable %s, err: %v", f.Name, envName, err)
			}
		}
	}

	for _, flags := range []*pflag.FlagSet{cmd.PersistentFlags(), cmd.Flags()} {
		flags.VisitAll(func(f *pflag.Flag) {
			visit(flags, f)
		})
	}
}

// flagNameToUpper converts a flag name to its corresponding base env name
// replacing dashes by underscores and making the result uppercase
// E.g. setup-keys -> SETUP_KEYS
func flagNameToUpper(cmdFlag string) string {
	return strings.ToUpper(strings.ReplaceAll(cmdFlag, "-", "_"))
}
