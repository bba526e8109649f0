package repl

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/database"
	"github.com/ValentinKolb/dDoc/lib/replicator"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/spf13/cobra"
)

var (
	pushCmd = &cobra.Command{
		Use:   "push [remote-endpoints] [remote-db]",
		Short: "Pushes the changes of the database to a remote database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return replicate(cmd, replicator.Push, args[0], args[1])
		},
	}
	pullCmd = &cobra.Command{
		Use:   "pull [remote-endpoints] [remote-db]",
		Short: "Pulls the changes of a remote database into the database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return replicate(cmd, replicator.Pull, args[0], args[1])
		},
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists the running replications of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := rpcDB.Replications(context.Background())
			if err != nil {
				return err
			}
			if infos == nil {
				infos = []database.ReplicationInfo{}
			}
			return util.PrintJSON(infos)
		},
	}
	stopCmd = &cobra.Command{
		Use:   "stop [id]",
		Short: "Stops a running replication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := rpcDB.StopReplication(context.Background(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no replication with id %s", args[0])
			}
			fmt.Printf("replication %s stopped\n", args[0])
			return nil
		},
	}
)

func init() {
	defaults := replicator.DefaultConfig(replicator.Pull)
	for _, c := range []*cobra.Command{pushCmd, pullCmd} {
		c.Flags().Bool("continuous", false, util.WrapString("Keep replicating new changes until stopped"))
		c.Flags().String("filter", "", util.WrapString("Only replicate documents whose id matches this glob (e.g. 'user/**')"))
		c.Flags().Int("batch-size", defaults.BatchSize, util.WrapString("Number of changes per batch"))
		c.Flags().Int("retries", defaults.MaxRetries, util.WrapString("Retries per batch before the replication fails"))
	}
}

// replicate starts a replication on the server and prints its result.
// Continuous replications return right away with the replication info.
func replicate(cmd *cobra.Command, direction replicator.Direction, endpoints, remoteDB string) error {
	cfg := replicator.DefaultConfig(direction)
	cfg.Continuous, _ = cmd.Flags().GetBool("continuous")
	cfg.Filter, _ = cmd.Flags().GetString("filter")
	cfg.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	cfg.MaxRetries, _ = cmd.Flags().GetInt("retries")
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = -1 // --retries 0 disables retries
	}

	req := common.ReplicationRequest{
		Direction: direction,
		Endpoints: util.SplitList(endpoints),
		Database:  remoteDB,
		Config:    cfg,
	}
	if len(req.Endpoints) == 0 {
		return fmt.Errorf("no remote endpoints given")
	}

	res, infos, err := rpcDB.Replicate(context.Background(), req)
	if err != nil {
		return err
	}
	if res == nil {
		return util.PrintJSON(infos)
	}
	if err := util.PrintJSON(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("replication failed: %s", res.Error)
	}
	return nil
}
