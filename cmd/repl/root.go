package repl

import (
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcDB *client.RPCDatabase

	// ReplicationCommands represents the replication command group
	ReplicationCommands = &cobra.Command{
		Use:   "repl",
		Short: "Replicate a database from or to another dDoc server",
		Long: util.WrapString("Replication runs on the server that holds the database given by --db. " +
			"The remote is addressed by its endpoints and database name. " +
			"push copies local changes to the remote, pull copies remote changes to the local database."),
		PersistentPreRunE: setupReplClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the replication command
	util.SetupRPCClientFlags(ReplicationCommands)

	// Add subcommands
	ReplicationCommands.AddCommand(pushCmd)
	ReplicationCommands.AddCommand(pullCmd)
	ReplicationCommands.AddCommand(listCmd)
	ReplicationCommands.AddCommand(stopCmd)
}

func setupReplClient(cmd *cobra.Command, _ []string) (err error) {
	rpcDB, err = util.NewDatabaseClient(cmd)
	return err
}
