package doc

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [id] [json]",
		Short: "Creates or updates a document (updates need --rev)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := util.ParseJSON(args[1])
			if err != nil {
				return err
			}
			props, ok := v.(map[string]any)
			if !ok {
				return fmt.Errorf("document content must be a json object")
			}
			rev, _ := cmd.Flags().GetString("rev")
			newRev, err := rpcDB.Put(context.Background(), args[0], props, rev)
			if err != nil {
				return err
			}
			fmt.Printf("id=%s, rev=%s\n", args[0], newRev)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [id]",
		Short: "Reads the current revision of a document (or --rev)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, _ := cmd.Flags().GetString("rev")
			doc, err := rpcDB.GetRevision(context.Background(), args[0], rev)
			if err != nil {
				return err
			}
			return util.PrintJSON(doc)
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [id]",
		Short: "Deletes a document (needs the current --rev)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, _ := cmd.Flags().GetString("rev")
			newRev, err := rpcDB.Delete(context.Background(), args[0], rev)
			if err != nil {
				return err
			}
			fmt.Printf("id=%s, deleted, rev=%s\n", args[0], newRev)
			return nil
		},
	}
	allCmd = &cobra.Command{
		Use:   "all",
		Short: "Lists all documents ordered by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := rpcDB.AllDocs(context.Background())
			if err != nil {
				return err
			}
			if docs == nil {
				docs = []store.Document{}
			}
			return util.PrintJSON(docs)
		},
	}
	changesCmd = &cobra.Command{
		Use:   "changes",
		Short: "Reads the change feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetUint64("since")
			limit, _ := cmd.Flags().GetInt("limit")
			changes, last, err := rpcDB.ChangesSince(context.Background(), since, limit)
			if err != nil {
				return err
			}
			if changes == nil {
				changes = []store.Change{}
			}
			return util.PrintJSON(map[string]any{"changes": changes, "last_seq": last})
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Describes the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcDB.Info(context.Background())
			if err != nil {
				return err
			}
			return util.PrintJSON(info)
		},
	}
)

func init() {
	putCmd.Flags().String("rev", "", util.WrapString("Current revision of the document (empty for new documents)"))
	getCmd.Flags().String("rev", "", util.WrapString("Revision to read (empty for the current one)"))
	delCmd.Flags().String("rev", "", util.WrapString("Current revision of the document"))
	changesCmd.Flags().Uint64("since", 0, util.WrapString("Return changes after this sequence"))
	changesCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of changes (0 = all)"))
}
