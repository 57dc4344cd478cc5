package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"quiz-engine/internal/codec"
	"quiz-engine/internal/config"
	"quiz-engine/internal/domain"
)

// NewCodecCmd exposes the answer codec for content authors and debugging.
func NewCodecCmd(configPath *string) *cobra.Command {
	var questionID string
	cmd := &cobra.Command{
		Use:   "codec",
		Short: "Encode or decode answer tokens with the configured secret",
	}
	cmd.PersistentFlags().StringVar(&questionID, "question", "", "question id the token is bound to")
	_ = cmd.MarkPersistentFlagRequired("question")

	load := func() (*codec.Codec, error) {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		if cfg.Codec.Secret == "" {
			return nil, fmt.Errorf("codec secret not configured")
		}
		return codec.New(cfg.Codec.Secret, cfg.Codec.Salt), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encode <value> [value...]",
		Short: "Encode an answer; several values form a set answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load()
			if err != nil {
				return err
			}
			answer := domain.SingleAnswer(args[0])
			if len(args) > 1 {
				answer = domain.MultiAnswer(args...)
			}
			token, err := c.Encode(answer, questionID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "decode <token>",
		Short: "Decode an answer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load()
			if err != nil {
				return err
			}
			answer, err := c.Decode(args[0], questionID)
			if err != nil {
				return err
			}
			raw, err := answer.MarshalJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	})
	return cmd
}
