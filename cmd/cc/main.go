// cc is the ContextCache command-line client. It talks to a running ccd
// over the REST API using an org API key.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes, stable for scripting.
const (
	exitOK         = 0
	exitGeneric    = 1
	exitAuth       = 2
	exitValidation = 3
	exitNotFound   = 4
	exitQuota      = 5
)

// exitError carries a process exit code alongside the message.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitErrf(code int, format string, args ...any) error {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:           "cc",
	Short:         "ContextCache client",
	Long:          "cc stores memory cards and recalls ranked memory packs from a ContextCache server.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("server", "", "server base URL (default from config or CC_BASE_URL)")
	flags.String("api-key", "", "API key (default from config or CC_API_KEY)")
	flags.String("org", "", "org id for org-scoped commands (default from config or CC_ORG_ID)")
	flags.Bool("json", false, "raw JSON output")

	viper.SetEnvPrefix("CC")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("base_url", flags.Lookup("server"))
	_ = viper.BindPFlag("api_key", flags.Lookup("api-key"))
	_ = viper.BindPFlag("org_id", flags.Lookup("org"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	viper.SetDefault("base_url", "http://localhost:8375")

	cobra.OnInitialize(loadClientConfig)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err.Error())
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitGeneric)
	}
}
