// Command mp4muxd muxes an Annex-B H.264 file and/or an ADTS AAC file into
// a streamable MP4, driving mp4mux.Writer from source/filesource.
package main

import (
	"fmt"
	"os"

	"github.com/streammux/mp4mux/cmd/mp4muxd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
