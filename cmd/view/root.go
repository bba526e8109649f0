package view

import (
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcDB *client.RPCDatabase

	// ViewCommands represents the view command group
	ViewCommands = &cobra.Command{
		Use:               "view",
		Short:             "Register and query views",
		PersistentPreRunE: setupViewClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the view command
	util.SetupRPCClientFlags(ViewCommands)

	// Add subcommands
	ViewCommands.AddCommand(registerCmd)
	ViewCommands.AddCommand(queryCmd)
}

func setupViewClient(cmd *cobra.Command, _ []string) (err error) {
	rpcDB, err = util.NewDatabaseClient(cmd)
	return err
}
