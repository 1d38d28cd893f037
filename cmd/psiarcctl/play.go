package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fenilsonani/psitrajectory/internal/archive"
)

func newPlayCommand() *cobra.Command {
	var oscillatorCount int
	var emotionDimensions int
	var mesoDecimation int
	var rate float64
	var seek int

	cmd := &cobra.Command{
		Use:   "play <archive.psiarc>",
		Short: "Replay an archive's frames to stdout",
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

			if r.FrameCount() == 0 {
				fmt.Println("archive contains no frames")
				return nil
			}

			p := archive.NewPlayer(r)
			if err := p.SetRate(rate); err != nil {
				return fmt.Errorf("set playback rate: %w", err)
			}
			if seek > 0 {
				if err := p.Seek(seek); err != nil {
					return fmt.Errorf("seek: %w", err)
				}
			}

			done := make(chan struct{})
			if err := p.Play(func(f archive.Frame) {
				fmt.Printf("frame %d (ts=%dms keyframe=%v) phase[0]=%.4f\n", f.FrameIndex, f.TimestampMs, f.IsKeyframe, f.Phases[0])
				if f.FrameIndex == uint64(r.FrameCount()-1) {
					close(done)
				}
			}); err != nil {
				return fmt.Errorf("start playback: %w", err)
			}

			<-done
			return nil
		},
	}

	cmd.Flags().IntVar(&oscillatorCount, "oscillators", archive.DefaultOscillatorCount, "oscillator count the archive was recorded with")
	cmd.Flags().IntVar(&emotionDimensions, "emotions", archive.DefaultEmotionDimensions, "emotion channel width the archive was recorded with")
	cmd.Flags().IntVar(&mesoDecimation, "meso-decimation", archive.DefaultMesoDecimation, "meso-band decimation factor the archive was recorded with")
	cmd.Flags().Float64Var(&rate, "rate", 1.0, "playback rate multiplier")
	cmd.Flags().IntVar(&seek, "seek", 0, "frame index to start playback from")

	return cmd
}
