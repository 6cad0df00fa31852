package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/psyclinic/psyclinic/internal/domain/multiscale"
)

func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score answers offline without a database",
	}

	msCmd := &cobra.Command{
		Use:   "multiscale",
		Short: "Score a multi-scale inventory from a YAML definition and a JSON answer file",
		RunE: func(cmd *cobra.Command, args []string) error {
			defPath, _ := cmd.Flags().GetString("instrument")
			answersPath, _ := cmd.Flags().GetString("answers")

			def, err := multiscale.LoadDefinition(defPath)
			if err != nil {
				return err
			}
			logger := zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger()
			scorer, err := multiscale.NewScorer(def, logger)
			if err != nil {
				return err
			}
			answers, err := readAnswers(answersPath, def.ItemCount)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(scorer.Score(answers))
		},
	}
	msCmd.Flags().String("instrument", "", "Path to the YAML instrument definition")
	msCmd.Flags().String("answers", "", "Path to a JSON answer file (object keyed by item or array of booleans)")
	_ = msCmd.MarkFlagRequired("instrument")
	_ = msCmd.MarkFlagRequired("answers")
	cmd.AddCommand(msCmd)

	return cmd
}

// readAnswers accepts either an array of booleans in item order or an
// object keyed by item number.
func readAnswers(path string, itemCount int) (multiscale.Answers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	return multiscale.DecodeAnswers(data, itemCount)
}
