package main

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/apkg"
	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/config"
	"github.com/MarcoPoloResearchLab/anki2spotify/backend/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type inspectDeck struct {
	apkg.Deck
	Notes []apkg.Note `json:"notes,omitempty"`
}

type inspectOutput struct {
	Decks      []inspectDeck `json:"decks"`
	TotalNotes int           `json:"total_notes"`
}

func newInspectCommand(configViper *viper.Viper) *cobra.Command {
	var (
		jsonOutput bool
		withNotes  bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <file.apkg>",
		Short: "Parse a local package and print its decks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig := config.LoadImport(configViper)
			logger, err := logging.NewConsoleLogger(appConfig.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			result, err := newParser(appConfig, logger).ParseFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			output := buildInspectOutput(result, withNotes || jsonOutput)
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), output)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDeckTable(output))
			if withNotes {
				for _, deck := range output.Decks {
					fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", deck.Name)
					fmt.Fprintln(cmd.OutOrStdout(), renderNoteTable(deck.Notes))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full parse result as JSON")
	cmd.Flags().BoolVar(&withNotes, "notes", false, "Print the notes of every deck")
	return cmd
}

func buildInspectOutput(result apkg.ParseResult, withNotes bool) inspectOutput {
	output := inspectOutput{
		Decks:      make([]inspectDeck, 0, len(result.Decks)),
		TotalNotes: result.TotalNotes(),
	}
	for _, deck := range result.Decks {
		entry := inspectDeck{Deck: deck}
		if withNotes {
			entry.Notes = result.NotesByDeck[deck.ID]
		}
		output.Decks = append(output.Decks, entry)
	}
	return output
}
