package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tesp-cosim/cosim/fed"
	"github.com/tesp-cosim/cosim/fed/scenario"
	"github.com/tesp-cosim/cosim/fed/trace"
)

// Config keys, also bound to the COSIM_* environment variables.
const (
	keyLog        = "log"
	keyCoreType   = "core-type"
	keyInitString = "init-string"
	keySchedule   = "schedule"
	keyTraceOut   = "trace-out"
	keyTraceLevel = "trace-level"
	keyWaitLimit  = "wait-limit"
)

// runOptions is the resolved configuration of one scenario run.
type runOptions struct {
	Stop       fed.Time
	LogLevel   string
	CoreType   string
	InitString string
	Schedule   string
	TraceOut   string
	TraceLevel string
	WaitLimit  time.Duration
}

// rootCmd runs the loadshed scenario until the given stop time.
var rootCmd = &cobra.Command{
	Use:   "cosim <stop-time>",
	Short: "Run the loadshed co-simulation scenario",
	Long: `Runs the loadshed switch schedule as one federate and a monitor as a second
federate of the same federation, until the stop time (seconds, or a duration
such as 6h). Flags may also be set in the config file or as COSIM_* variables.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := resolveOptions(args[0])
		if err != nil {
			return err
		}
		level, err := logrus.ParseLevel(opts.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level: %s", opts.LogLevel)
		}
		logrus.SetLevel(level)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return run(ctx, opts, cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cosim version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cosim %s\n", fed.Version())
	},
}

// resolveOptions merges flags, environment and config file through viper.
func resolveOptions(stopArg string) (runOptions, error) {
	stopTime, err := fed.ParseTime(stopArg)
	if err != nil {
		return runOptions{}, fmt.Errorf("stop time: %w", err)
	}
	opts := runOptions{
		Stop:       stopTime,
		LogLevel:   viper.GetString(keyLog),
		CoreType:   viper.GetString(keyCoreType),
		InitString: viper.GetString(keyInitString),
		Schedule:   viper.GetString(keySchedule),
		TraceOut:   viper.GetString(keyTraceOut),
		TraceLevel: viper.GetString(keyTraceLevel),
		WaitLimit:  viper.GetDuration(keyWaitLimit),
	}
	if !trace.IsValidTraceLevel(opts.TraceLevel) {
		return runOptions{}, fmt.Errorf("%w: unknown trace level %q", fed.ErrConfig, opts.TraceLevel)
	}
	return opts, nil
}

// run executes the scenario and prints what the monitor observed.
func run(ctx context.Context, opts runOptions, out io.Writer) error {
	schedule := scenario.DefaultLoadshedSchedule()
	if opts.Schedule != "" {
		s, err := scenario.LoadSchedule(opts.Schedule)
		if err != nil {
			return err
		}
		schedule = s
	}

	var st *trace.SimulationTrace
	if opts.TraceOut != "" {
		st = trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevel(opts.TraceLevel)})
	}

	logrus.Infof("Co-simulation %s starting, stop time %gs", fed.Version(), opts.Stop.Seconds())
	startTime := time.Now()
	res, err := scenario.RunLoadshed(ctx, scenario.Options{
		Stop:       opts.Stop,
		Schedule:   schedule,
		CoreType:   opts.CoreType,
		InitString: opts.InitString,
		WaitLimit:  opts.WaitLimit,
		Trace:      st,
	})
	if err != nil {
		return err
	}

	for _, o := range res.Observations {
		kind := "value"
		if o.Message {
			kind = "message"
		}
		fmt.Fprintf(out, "%10g  %-8s %s = %s\n", o.Granted.Seconds(), kind, o.Key, o.Value)
	}

	if st != nil {
		summary := trace.Summarize(st)
		logrus.Infof("Trace: %d grants, %d publications, %d deliveries, max delivery lag %s",
			summary.TotalGrants, summary.TotalPublications, summary.TotalDeliveries, fed.Time(summary.MaxDeliveryLag))
		if err := trace.WriteFile(opts.TraceOut, st); err != nil {
			return err
		}
		logrus.Infof("Trace written to %s", opts.TraceOut)
	}
	logrus.Infof("Co-simulation complete at %gs in %s", res.MonitorTime.Seconds(), time.Since(startTime).Round(time.Millisecond))
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default is ./cosim.yaml)")
	rootCmd.Flags().String(keyLog, "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.Flags().String(keyCoreType, string(fed.CoreInproc), "Core type (inproc, test, zmq, zmq_ss, tcp, tcp_ss, udp, ipc)")
	rootCmd.Flags().String(keyInitString, "--federates=2 --broker=loadshed", "Core init string")
	rootCmd.Flags().String(keySchedule, "", "Path to a YAML switching schedule (default is the built-in loadshed schedule)")
	rootCmd.Flags().String(keyTraceOut, "", "Write a CBOR trace of grants and values to this file")
	rootCmd.Flags().String(keyTraceLevel, string(trace.TraceLevelValues), "Trace verbosity (none, grants, values)")
	rootCmd.Flags().Duration(keyWaitLimit, 0, "Limit on barrier and grant waits (0 = wait forever)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	for _, key := range []string{keyLog, keyCoreType, keyInitString, keySchedule, keyTraceOut, keyTraceLevel, keyWaitLimit} {
		_ = viper.BindPFlag(key, rootCmd.Flags().Lookup(key))
	}

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("cosim")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("COSIM")
	// COSIM_CORE_TYPE for core-type
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
