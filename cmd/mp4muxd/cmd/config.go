package cmd

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()

	v.SetDefault("video.fps", 30)
	v.SetDefault("moov.estimated_size", 0x0F00)
	v.SetDefault("interleave.duration", "500ms")
	v.SetDefault("max.file_size", 0)
	v.SetDefault("max.file_duration", "0s")

	v.AutomaticEnv()
	v.SetEnvPrefix("MP4MUXD")
	v.BindEnv("video.fps", "MP4MUXD_VIDEO_FPS")
	v.BindEnv("moov.estimated_size", "MP4MUXD_MOOV_ESTIMATED_SIZE")
	v.BindEnv("interleave.duration", "MP4MUXD_INTERLEAVE_DURATION")
	v.BindEnv("max.file_size", "MP4MUXD_MAX_FILE_SIZE")
	v.BindEnv("max.file_duration", "MP4MUXD_MAX_FILE_DURATION")

	v.SetConfigName("mp4muxd")
	v.SetConfigType("yaml")
	for _, path := range []string{".", "$HOME/.mp4muxd", "/etc/mp4muxd"} {
		v.AddConfigPath(os.ExpandEnv(path))
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}
}

func videoFPS() int { return v.GetInt("video.fps") }

func estimatedMoovSize() int64 { return v.GetInt64("moov.estimated_size") }

func interleaveDuration() time.Duration { return v.GetDuration("interleave.duration") }

func maxFileSize() int64 { return v.GetInt64("max.file_size") }

func maxFileDuration() time.Duration { return v.GetDuration("max.file_duration") }
