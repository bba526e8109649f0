package view

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/view"
	"github.com/spf13/cobra"
)

var (
	registerCmd = &cobra.Command{
		Use:   "register [name]",
		Short: "Registers a view that emits the given fields of every document",
		Long: util.WrapString("Registers a view. The key of every row is the list of the --keys fields of a document, " +
			"the value is the --value field (or null). Documents without the first key field emit no row. " +
			"Registering the same name with a new --version rebuilds the index."),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, _ := cmd.Flags().GetString("keys")
			value, _ := cmd.Flags().GetString("value")
			version, _ := cmd.Flags().GetString("version")

			spec := view.Spec{
				Name:    args[0],
				Version: version,
				Keys:    util.SplitList(keys),
				Value:   value,
			}
			if err := spec.Validate(); err != nil {
				return err
			}
			if err := rpcDB.RegisterView(context.Background(), spec); err != nil {
				return err
			}
			fmt.Printf("view %s registered (version %s)\n", spec.Name, spec.Version)
			return nil
		},
	}
	queryCmd = &cobra.Command{
		Use:   "query [name]",
		Short: "Queries a view (keys are given as json)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := queryOptions(cmd)
			if err != nil {
				return err
			}
			rows, err := rpcDB.QueryView(context.Background(), args[0], opts)
			if err != nil {
				return err
			}
			return util.PrintJSON(rows)
		},
	}
)

func init() {
	registerCmd.Flags().String("keys", "", util.WrapString("Comma separated document fields that form the row key"))
	registerCmd.Flags().String("value", "", util.WrapString("Document field emitted as row value"))
	registerCmd.Flags().String("version", "1", util.WrapString("Version of the view definition"))

	queryCmd.Flags().String("key", "", util.WrapString("Exact key (json, e.g. '[\"Alice\"]')"))
	queryCmd.Flags().String("prefix", "", util.WrapString("Key prefix (json array, e.g. '[\"Alice\"]')"))
	queryCmd.Flags().String("start", "", util.WrapString("First key of the range (json)"))
	queryCmd.Flags().String("end", "", util.WrapString("Last key of the range (json)"))
	queryCmd.Flags().Bool("inclusive-end", false, util.WrapString("Include rows equal to --end"))
	queryCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of rows (0 = all)"))
	queryCmd.Flags().Int("skip", 0, util.WrapString("Number of rows to skip"))
	queryCmd.Flags().Bool("descending", false, util.WrapString("Return rows in descending key order"))
	queryCmd.Flags().Bool("stale", false, util.WrapString("Do not bring the index up to date before reading"))
}

// queryOptions builds the query options from the flags of cmd
func queryOptions(cmd *cobra.Command) (view.QueryOptions, error) {
	var (
		opts view.QueryOptions
		err  error
	)

	key, _ := cmd.Flags().GetString("key")
	if opts.Key, err = util.ParseJSON(key); err != nil {
		return opts, err
	}
	start, _ := cmd.Flags().GetString("start")
	if opts.StartKey, err = util.ParseJSON(start); err != nil {
		return opts, err
	}
	end, _ := cmd.Flags().GetString("end")
	if opts.EndKey, err = util.ParseJSON(end); err != nil {
		return opts, err
	}

	prefix, _ := cmd.Flags().GetString("prefix")
	p, err := util.ParseJSON(prefix)
	if err != nil {
		return opts, err
	}
	if p != nil {
		arr, ok := p.([]any)
		if !ok {
			return opts, fmt.Errorf("--prefix must be a json array")
		}
		opts.Prefix = arr
	}

	opts.InclusiveEnd, _ = cmd.Flags().GetBool("inclusive-end")
	opts.Limit, _ = cmd.Flags().GetInt("limit")
	opts.Skip, _ = cmd.Flags().GetInt("skip")
	opts.Descending, _ = cmd.Flags().GetBool("descending")
	opts.Stale, _ = cmd.Flags().GetBool("stale")

	return opts, nil
}
