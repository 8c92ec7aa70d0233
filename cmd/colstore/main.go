package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"colstore/logging"
)

var rootCmd = &cobra.Command{
	Use:   "colstore",
	Short: "Columnar analytical query engine",
	Long:  "colstore loads parquet data into an in-memory column store and runs aggregate and window queries against it.",
}

func init() {
	rootCmd.PersistentFlags().Int("segment-capacity", 0, "Rows per segment (0 = default)")
	rootCmd.PersistentFlags().String("compression", "snappy", "Segment compression (none|snappy|zstd|gzip)")
	rootCmd.PersistentFlags().Int("workers", 0, "Worker pool size (0 = NumCPU)")

	viper.SetEnvPrefix("COLSTORE")
	viper.AutomaticEnv()
	viper.BindPFlag("segment_capacity", rootCmd.PersistentFlags().Lookup("segment-capacity"))
	viper.BindPFlag("compression", rootCmd.PersistentFlags().Lookup("compression"))
	viper.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))

	rootCmd.AddCommand(genCmd, loadCmd, queryCmd)
}

func main() {
	log := logging.New(os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
