package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "allocd",
		Short: "Allocation maintainer daemon",
		Long:  "allocd runs the capital-allocation core against an in-memory simulation stack and journals every allocation event.",
	}

	rootCmd.AddCommand(versionCmd(), runCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the allocd version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Println("allocd", version)
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the maintainer tick loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			log, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("create logger: %v", err)
			}
			defer log.Sync()

			sim, err := newSimulation(cfg, log)
			if err != nil {
				return err
			}
			defer sim.Close()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			log.Info("allocd started",
				zap.Duration("tick", cfg.Tick),
				zap.String("journal", cfg.JournalPath),
				zap.Int("destinations", cfg.Destinations))
			sim.Run(stop)
			log.Info("allocd stopped")
			return nil
		},
	}

	cmd.Flags().Duration("tick", 5*time.Second, "interval between allocation sweeps")
	cmd.Flags().String("journal", "allocd.db", "sqlite journal path")
	cmd.Flags().Int("destinations", 2, "number of simulated yield destinations")
	cmd.Flags().Int64("reserve", 100, "liquidity kept at the owning vault, in base units")
	cmd.Flags().Int64("supply", 10_000, "initial simulated vault liquidity, in base units")
	cmd.Flags().String("config", "", "config file (optional)")
	return cmd
}

type config struct {
	Tick         time.Duration
	JournalPath  string
	Destinations int
	Reserve      int64
	Supply       int64
}

func loadConfig(cmd *cobra.Command) (*config, error) {
	v := viper.New()
	v.SetEnvPrefix("ALLOCD")
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &config{
		Tick:         v.GetDuration("tick"),
		JournalPath:  v.GetString("journal"),
		Destinations: v.GetInt("destinations"),
		Reserve:      v.GetInt64("reserve"),
		Supply:       v.GetInt64("supply"),
	}
	if cfg.Tick <= 0 {
		return nil, fmt.Errorf("tick must be positive, got %s", cfg.Tick)
	}
	if cfg.Destinations < 1 {
		return nil, fmt.Errorf("need at least one destination, got %d", cfg.Destinations)
	}
	return cfg, nil
}
