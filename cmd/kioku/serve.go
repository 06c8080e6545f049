package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kioku/common/version"
	"github.com/bdobrica/Kioku/internal/kioku/provision"
)

var encoderCmd = &cobra.Command{
	Use:   "encoder",
	Short: "Run the sentence-encoder container",
}

var encoderUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the encoder container and wait until it is healthy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := provision.New(nil)
		if err != nil {
			return err
		}
		spec := a.EncoderSpec()
		st, err := p.EnsureEncoder(cmd.Context(), spec, a.EncoderProbe())
		if err != nil {
			return err
		}
		switch {
		case st.Created:
			fmt.Printf("Encoder %s created and started on port %d\n", spec.Name, spec.HostPort)
		case st.Started:
			fmt.Printf("Encoder %s started on port %d\n", spec.Name, spec.HostPort)
		default:
			fmt.Printf("Encoder %s already running on port %d\n", spec.Name, spec.HostPort)
		}
		return nil
	},
}

var encoderDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the encoder container",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		remove, _ := cmd.Flags().GetBool("remove")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p, err := provision.New(nil)
		if err != nil {
			return err
		}
		if err := p.StopEncoder(cmd.Context(), cfg.Encoder.Name, remove); err != nil {
			return err
		}
		fmt.Printf("Encoder %s stopped\n", cfg.Encoder.Name)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health, status and metrics over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Serve(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kioku %s\n", version.Info())
	},
}

func init() {
	encoderDownCmd.Flags().Bool("remove", false, "also remove the container (the model volume is kept)")
	encoderCmd.AddCommand(encoderUpCmd, encoderDownCmd)
	rootCmd.AddCommand(encoderCmd, serveCmd, versionCmd)
}
