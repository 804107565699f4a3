package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/dbbot/pkg/digest"
)

var hashCmd = &cobra.Command{
	Use:   "hash FILE...",
	Short: "Print the content hash dbbot records for each document",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHash,
}

func init() {
	rootCmd.AddCommand(hashCmd)
}

func runHash(cmd *cobra.Command, args []string) error {
	alg, err := digest.ParseAlgorithm(cfg.Ingest.HashAlgorithm)
	if err != nil {
		return err
	}

	blockSize, err := cfg.Ingest.BlockSize()
	if err != nil {
		return err
	}

	for _, path := range args {
		sum, err := digest.HashFile(path, alg, blockSize)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, path)
	}

	return nil
}
