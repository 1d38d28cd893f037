package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenilsonani/psitrajectory/internal/archive"
)

func newVerifyCommand() *cobra.Command {
	var oscillatorCount int
	var emotionDimensions int
	var mesoDecimation int

	cmd := &cobra.Command{
		Use:   "verify <archive.psiarc>",
		Short: "Check every chunk's CRC32 across the whole archive",
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

			if err := r.VerifyAll(context.Background()); err != nil {
				return fmt.Errorf("archive failed integrity check: %w", err)
			}
			fmt.Printf("ok: %d frames verified (%d meso, %d macro)\n", r.FrameCount(), r.MesoFrameCount(), r.MacroEventCount())
			return nil
		},
	}

	cmd.Flags().IntVar(&oscillatorCount, "oscillators", archive.DefaultOscillatorCount, "oscillator count the archive was recorded with")
	cmd.Flags().IntVar(&emotionDimensions, "emotions", archive.DefaultEmotionDimensions, "emotion channel width the archive was recorded with")
	cmd.Flags().IntVar(&mesoDecimation, "meso-decimation", archive.DefaultMesoDecimation, "meso-band decimation factor the archive was recorded with")

	return cmd
}
