// Package cmd implements the quip command line: thin subcommands over the
// quip client, configured from flags, QUIP_* environment variables and an
// optional YAML config file.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	quip "github.com/egorkaBurkenya/quip-go"
)

const (
	envPrefix      = "QUIP"
	defaultBaseURL = "https://platform.quip.com/1"
)

// NewRootCmd builds the command tree. Every call gets its own viper
// instance so that tests can run commands side by side.
func NewRootCmd(version string) *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "quip",
		Short:         "Fetch threads, folders, users and exports from the document API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/quip/config.yaml)")
	flags.String("base-url", defaultBaseURL, "API base URL")
	flags.String("token", "", "API access token")
	flags.Duration("timeout", 30*time.Second, "per-request timeout")
	flags.Float64("rps", 0, "client-side request rate limit (0 disables)")
	flags.BoolP("verbose", "v", false, "verbose output (sets log level to debug)")
	flags.Bool("stats", false, "print call statistics to stderr on exit")

	for _, name := range []string{"base-url", "token", "timeout", "rps", "verbose", "stats"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		newWhoamiCmd(v),
		newUserCmd(v),
		newFolderCmd(v),
		newFoldersCmd(v),
		newThreadCmd(v),
		newThreadsCmd(v),
		newMessagesCmd(v),
		newBlobCmd(v),
		newExportCmd(v),
	)
	return root
}

// initConfig reads the config file and environment. Flags set on the
// command line win over the environment, which wins over the file.
func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return nil
	}

	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "quip"))
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// It's OK if the config file doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// newLogger writes JSON logs to the command's stderr, at debug level when
// verbose is set.
func newLogger(cmd *cobra.Command, v *viper.Viper) *zap.Logger {
	level := zapcore.InfoLevel
	if v.GetBool("verbose") {
		level = zapcore.DebugLevel
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(cmd.ErrOrStderr()), level)
	return zap.New(core).Named("quip")
}

func newClient(cmd *cobra.Command, v *viper.Viper) (*quip.Client, *zap.Logger, error) {
	token := v.GetString("token")
	if token == "" {
		return nil, nil, fmt.Errorf("access token is required (--token or %s_TOKEN)", envPrefix)
	}

	logger := newLogger(cmd, v)
	opts := []quip.Option{
		quip.WithLogger(quip.ZapLogger(logger)),
		quip.WithTimeout(v.GetDuration("timeout")),
	}
	if rps := v.GetFloat64("rps"); rps > 0 {
		opts = append(opts, quip.WithRateLimit(rps, 1))
	}

	c, err := quip.New(v.GetString("base-url"), token, opts...)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("client ready", zap.String("base_url", v.GetString("base-url")))
	return c, logger, nil
}
