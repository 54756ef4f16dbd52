// Package commands provides the CLI commands for agentctl.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cellrt/runtime-agent/internal/logging"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Flags shared by every subcommand that talks to a notebook (run, serve).
// Required: notebook, authToken. Optional: everything else, per spec root
// §6's CLI surface — environment-variable fallbacks for each of these are
// applied inside internal/config.Load/applyEnvOverrides, so a flag left
// unset here still picks up AGENT_NOTEBOOK etc.
var (
	flagNotebook        string
	flagAuthToken       string
	flagSyncURL         string
	flagRuntimeID       string
	flagRuntimeType     string
	flagHeartbeatMillis int
	flagDirectory       string
	flagPrintLogs       bool
	flagLogLevel        string
)

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Runtime agent for collaborative notebooks",
	Long: `agentctl attaches a runtime agent to a collaborative notebook's
event-sourced store and executes cells (code, SQL, AI) on behalf of remote
users until interrupted.

Run 'agentctl run' to attach and process work, or 'agentctl serve' to do
the same plus expose a read-only operator HTTP surface.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.Config{
			Level:  logging.ParseLevel(flagLogLevel),
			Output: os.Stderr,
			Pretty: flagPrintLogs,
		}
		if !flagPrintLogs {
			logCfg.Level = logging.WarnLevel
		}
		logging.Init(logCfg)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagNotebook, "notebook", "", "Notebook id to attach to (required; env AGENT_NOTEBOOK)")
	rootCmd.PersistentFlags().StringVar(&flagAuthToken, "auth-token", "", "Notebook auth token (required; env AGENT_AUTH_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagSyncURL, "sync-url", "", "Notebook sync server URL (env AGENT_SYNC_URL)")
	rootCmd.PersistentFlags().StringVar(&flagRuntimeID, "runtime-id", "", "Runtime id to advertise (env AGENT_RUNTIME_ID)")
	rootCmd.PersistentFlags().StringVar(&flagRuntimeType, "runtime-type", "", "Runtime type to advertise, e.g. python (env AGENT_RUNTIME_TYPE)")
	rootCmd.PersistentFlags().IntVar(&flagHeartbeatMillis, "heartbeat-interval", 0, "Heartbeat interval in milliseconds (env AGENT_HEARTBEAT_INTERVAL_MS)")
	rootCmd.PersistentFlags().StringVar(&flagDirectory, "directory", "", "Working directory to load config/.agent.yaml from (default: cwd)")
	rootCmd.PersistentFlags().BoolVar(&flagPrintLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agentctl %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerProbeCmd)
}

// Execute runs the root command. Exit codes follow spec root §6: 0 for a
// clean run (including --help, which cobra itself exits 0 for), 1 for a
// configuration error (returned here as a non-nil error, printed by main
// and turned into os.Exit(1)).
func Execute() error {
	return rootCmd.Execute()
}

// workDir resolves the --directory flag against the process's current
// directory, matching GetWorkDir's teacher-side counterpart.
func workDir() (string, error) {
	if flagDirectory != "" {
		return flagDirectory, nil
	}
	return os.Getwd()
}
