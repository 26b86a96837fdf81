package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mp4muxd",
	Short: "Mux elementary streams into a streamable MP4",
	Long:  `mp4muxd reads raw H.264/AAC elementary streams and writes a moov-before-mdat MP4, falling back to a trailing moov if the index outgrows its reserved slot.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(newMuxCmd())
}
