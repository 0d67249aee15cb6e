// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bridge-cli/internal/config"
	"github.com/xkilldash9x/bridge-cli/internal/observability"
	"github.com/xkilldash9x/bridge-cli/internal/runstore"
	"github.com/xkilldash9x/bridge-cli/internal/session"
)

var (
	cfgFile string
	appCfg  config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "bridge-cli",
	Short:   "Bridge is a supervisory runner for observation and interaction tasks.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env first so OPENAI_API_KEY and friends can live there.
		_ = godotenv.Load()

		if err := initializeConfig(); err != nil {
			return err
		}
		if err := viper.Unmarshal(&appCfg); err != nil {
			observability.InitializeLogger(config.LoggerConfig{
				Level: "info", Format: "console", ServiceName: "bridge-cli",
			})
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}
		appCfg.ApplySecondOverrides(viper.GetViper())
		if err := appCfg.Validate(); err != nil {
			return err
		}

		observability.InitializeLogger(appCfg.Logger)
		observability.GetLogger().Debug("Starting bridge-cli", zap.String("version", Version))
		return nil
	},
}

// Execute adds all child commands to the root command and runs it. An
// interrupt cancels the command context; the bridge finalizer turns that
// into a graceful run finalization.
func Execute() {
	defer observability.Sync()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig() error {
	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	config.SetDefaults(v)
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	config.BindEnvOverrides(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars.
	}
	return nil
}

// runsStore builds the run store from the resolved config.
func runsStore() (*runstore.Store, error) {
	root, err := appCfg.RunsRoot()
	if err != nil {
		return nil, err
	}
	return runstore.NewStore(root), nil
}

// sessionRegistry builds the session registry from the resolved config.
func sessionRegistry() (*session.Registry, error) {
	store, err := runsStore()
	if err != nil {
		return nil, err
	}
	registry := session.NewRegistry(store.SessionsDir())
	registry.BrowserBinary = appCfg.Web.BrowserBinary
	return registry, nil
}

// resolveAttach maps an --attach value ("last" included) to a session.
func resolveAttach(registry *session.Registry, attach string) (*session.WebSession, error) {
	if attach == "" || attach == "last" {
		return registry.LastSession()
	}
	return registry.Refresh(rootCmd.Context(), attach)
}
