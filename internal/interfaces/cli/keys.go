package cli

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/rsvpd/internal/application/usecases"
)

func newKeysCmd() *cobra.Command {
	var withToken bool
	c := &cobra.Command{
		Use:   "keys",
		Short: "Generate CURSOR_HASH_KEY, CURSOR_BLOCK_KEY and an API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash := make([]byte, 32)
			block := make([]byte, 32)
			if _, err := rand.Read(hash); err != nil {
				return err
			}
			if _, err := rand.Read(block); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "export CURSOR_HASH_KEY=%s\n", base64.StdEncoding.EncodeToString(hash))
			fmt.Fprintf(out, "export CURSOR_BLOCK_KEY=%s\n", base64.StdEncoding.EncodeToString(block))
			if !withToken {
				return nil
			}

			token, err := usecases.NewToken()
			if err != nil {
				return err
			}
			tokenHash, err := usecases.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "export API_TOKEN_HASH='%s'\n", tokenHash)
			fmt.Fprintf(out, "# API token (give to clients, not stored): %s\n", token)
			return nil
		},
	}
	c.Flags().BoolVar(&withToken, "token", true, "also generate an API bearer token and its bcrypt hash")
	return c
}
