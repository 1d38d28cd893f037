package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenilsonani/psitrajectory/internal/archive"
)

func newInspectCommand() *cobra.Command {
	var oscillatorCount int
	var emotionDimensions int
	var mesoDecimation int

	cmd := &cobra.Command{
		Use:   "inspect <archive.psiarc>",
		Short: "Print an archive's header and frame count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := archive.Open(args[0], archive.ReaderConfig{
				OscillatorCount:   oscillatorCount,
				EmotionDimensions: emotionDimensions,
				MaxKeyframeCache:  archive.DefaultMaxKeyframeCache,
				MesoDecimation:    mesoDecimation,
			})
			if err != nil {
				return fmt.Errorf("open archive: %w", err)
			}
			defer r.Close()

			fmt.Printf("frames:      %d\n", r.FrameCount())
			fmt.Printf("meso frames: %d\n", r.MesoFrameCount())
			fmt.Printf("macro events:%d\n", r.MacroEventCount())
			if r.FrameCount() == 0 {
				return nil
			}

			first, err := r.ReadFrame(0)
			if err != nil {
				return fmt.Errorf("read first frame: %w", err)
			}
			last, err := r.ReadFrame(r.FrameCount() - 1)
			if err != nil {
				return fmt.Errorf("read last frame: %w", err)
			}
			fmt.Printf("start ts ms: %d\n", first.TimestampMs)
			fmt.Printf("end ts ms:   %d\n", last.TimestampMs)
			fmt.Printf("oscillators: %d\n", oscillatorCount)
			fmt.Printf("emotions:    %d\n", emotionDimensions)
			return nil
		},
	}

	cmd.Flags().IntVar(&oscillatorCount, "oscillators", archive.DefaultOscillatorCount, "oscillator count the archive was recorded with")
	cmd.Flags().IntVar(&emotionDimensions, "emotions", archive.DefaultEmotionDimensions, "emotion channel width the archive was recorded with")
	cmd.Flags().IntVar(&mesoDecimation, "meso-decimation", archive.DefaultMesoDecimation, "meso-band decimation factor the archive was recorded with")

	return cmd
}
