// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mediarec/internal/capture"
	"mediarec/internal/config"
	"mediarec/internal/media"
	"mediarec/pkg/build"
)

// Options is the parsed command line. Run is false when a subcommand
// already did all the work.
type Options struct {
	Config   *config.Config
	Headless bool
	Run      bool
}

// ParseArgs parses args, loads the configuration and applies flag
// overrides on top of it. Subcommand output goes to out.
func ParseArgs(args []string, out io.Writer) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{}

	var (
		configPath string
		device     int
		timeslice  time.Duration
		duration   time.Duration
		preferMPEG bool
		codecs     string
		outputDir  string
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			// Flags win over the file and the environment.
			flags := cmd.Flags()
			if flags.Changed("device") {
				cfg.Capture.InputDevice = device
			}
			if flags.Changed("timeslice") {
				cfg.Recorder.Timeslice = timeslice
			}
			if flags.Changed("duration") {
				cfg.Recorder.MaxDuration = duration
			}
			if flags.Changed("mpeg") {
				cfg.Recorder.PreferMPEG = preferMPEG
			}
			if flags.Changed("codecs") {
				cfg.Recorder.Codecs = codecs
			}
			if flags.Changed("output") {
				cfg.Recorder.OutputDir = outputDir
			}
			if verbose {
				cfg.Debug = true
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}

			options.Config = cfg
			options.Run = true
			return nil
		},
	}
	rootCmd.SetOut(out)

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// Mime command
	var video bool
	mimeCmd := &cobra.Command{
		Use:   "mime",
		Short: "Print the recording mime type and whether capture supports it",
		RunE: func(cmd *cobra.Command, args []string) error {
			mimeType := media.MimeType(video, preferMPEG, codecs)
			supported := capture.NewPlatform(nil).IsTypeSupported(mimeType)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tsupported: %t\n", mimeType, supported)
			return nil
		},
	}
	mimeCmd.Flags().BoolVar(&video, "video", false, "Assume the stream has a video track")
	rootCmd.AddCommand(mimeCmd)

	// Capture Configuration
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to a YAML config file (default: ./config.yaml if present)")
	rootCmd.Flags().IntVarP(&device, "device", "d", config.DefaultInputDevice,
		"Specify input device ID (-1 for the system default)")

	// Recording Configuration
	rootCmd.Flags().DurationVarP(&timeslice, "timeslice", "t", config.DefaultTimeslice,
		"How often the recorder delivers a chunk")
	rootCmd.Flags().DurationVar(&duration, "duration", config.DefaultMaxDuration,
		"Stop recording after this long (0 records until stopped)")
	rootCmd.PersistentFlags().BoolVar(&preferMPEG, "mpeg", false,
		"Record video/mpeg")
	rootCmd.PersistentFlags().StringVar(&codecs, "codecs", config.DefaultCodecs,
		"Codecs parameter of the recording mime type")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", config.DefaultOutputDir,
		"Directory for finished recordings")
	rootCmd.Flags().BoolVar(&options.Headless, "headless", false,
		"Record immediately without the console UI")

	// Debug Configuration
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false,
		"Show verbose output")

	// Execute the CLI
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return options, nil
}
