package cmd

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/streammux/mp4mux/mp4mux"
	"github.com/streammux/mp4mux/source/filesource"
)

func newMuxCmd() *cobra.Command {
	var h264Path, aacPath, outPath string

	cmd := &cobra.Command{
		Use:   "mux",
		Short: "Mux an H.264 and/or AAC elementary stream into an MP4 file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if h264Path == "" && aacPath == "" {
				return errors.New("mp4muxd: at least one of --h264 or --aac is required")
			}
			return runMux(h264Path, aacPath, outPath)
		},
	}

	cmd.Flags().StringVar(&h264Path, "h264", "", "path to an Annex-B H.264 elementary stream")
	cmd.Flags().StringVar(&aacPath, "aac", "", "path to an ADTS AAC elementary stream")
	cmd.Flags().StringVarP(&outPath, "out", "o", "out.mp4", "output MP4 path")
	return cmd
}

func runMux(h264Path, aacPath, outPath string) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	w, err := mp4mux.Open(outPath)
	if err != nil {
		return errors.Wrap(err, "mp4muxd: opening output")
	}
	w.SetLogger(log)
	w.SetEstimatedMoovSize(estimatedMoovSize())
	w.SetInterleaveDuration(interleaveDuration())
	if n := maxFileSize(); n > 0 {
		w.SetMaxFileSize(n)
	}
	if d := maxFileDuration(); d > 0 {
		w.SetMaxFileDuration(d)
	}

	if h264Path != "" {
		src, err := filesource.NewH264(h264Path, videoFPS(), 0, 0)
		if err != nil {
			return errors.Wrap(err, "mp4muxd: opening h264 source")
		}
		w.AddSource(src)
	}
	if aacPath != "" {
		src, err := filesource.NewAAC(aacPath)
		if err != nil {
			return errors.Wrap(err, "mp4muxd: opening aac source")
		}
		w.AddSource(src)
	}

	if err := w.Start(); err != nil {
		return errors.Wrap(err, "mp4muxd: starting writer")
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if w.ReachedEOS() {
			break
		}
	}

	if err := w.Stop(); err != nil {
		return errors.Wrap(err, "mp4muxd: stopping writer")
	}

	log.WithField("streamable", w.IsStreamable()).WithField("out", outPath).Info("mp4muxd: wrote file")
	return nil
}
