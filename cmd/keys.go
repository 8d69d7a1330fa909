package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scott/kvdns/cache"
)

var keysCmd = &cobra.Command{
	Use:   "keys HOST",
	Short: "Print the store keys consulted for HOST, most specific first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := strings.TrimSuffix(strings.ToLower(args[0]), ".")
		for _, key := range cache.LookupKeys(host) {
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}
		return nil
	},
}
