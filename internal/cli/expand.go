package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewExpandCmd creates the expand command. It resolves the message_id
// pointer left in compressed messages to the stored original.
func NewExpandCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "expand <message-id>",
		Short: "Print the full content of a stored message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := GetCLIContext(cmd).Store(cmd.Context())
			if err != nil {
				return err
			}
			m, err := store.GetMessage(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("message %s: %w", args[0], err)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), m)
			}
			fmt.Fprintln(cmd.OutOrStdout(), m.Content.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the whole message as JSON")

	return cmd
}
