package serve

import (
	"context"
	"fmt"
	cmdUtil "github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/server"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/ValentinKolb/dDoc/rpc/transport/http"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dDoc server",
		Long:    `Start the dDoc server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DDOC_<flag> (e.g. DDOC_DATA_DIR=./data)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "databases"
	ServeCmd.PersistentFlags().String(key, "default", cmdUtil.WrapString("Comma-separated list of databases to serve (e.g. books,notes)"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for requests this server sends to other servers during replication"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Directory for database snapshots. Snapshots are restored on startup and written on shutdown. Empty keeps all data in memory"))

	key = "snapshot-interval"
	ServeCmd.PersistentFlags().Int64(key, 60, cmdUtil.WrapString("Seconds between snapshots of changed databases (requires data-dir, 0 = only on shutdown)"))

	key = "views"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("YAML file with view definitions applied to every database. The file is watched and reapplied on change"))

	key = "index-workers"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Concurrent map function evaluations per view engine (0 = number of CPUs)"))

	key = "eager-indexing"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Update views in the background after every write instead of on query"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Databases = cmdUtil.SplitList(viper.GetString("databases"))
	if len(serveCmdConfig.Databases) == 0 {
		return fmt.Errorf("at least one database is required")
	}
	for _, name := range serveCmdConfig.Databases {
		if strings.ContainsAny(name, "/ ") {
			return fmt.Errorf("invalid database name %q", name)
		}
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.SnapshotIntervalSeconds = viper.GetInt64("snapshot-interval")
	serveCmdConfig.ViewsFile = viper.GetString("views")
	serveCmdConfig.IndexWorkers = viper.GetInt("index-workers")
	serveCmdConfig.EagerIndexing = viper.GetBool("eager-indexing")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.SnapshotIntervalSeconds < 0 {
		return fmt.Errorf("snapshot-interval must not be negative")
	}

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the dDoc server and shuts it down on SIGINT / SIGTERM
func run(_ *cobra.Command, _ []string) error {
	// parse the serializer
	s, err := serializer.NewSerializer(viper.GetString("serializer"))
	if err != nil {
		return err
	}

	// Parse the transport
	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "http":
		t = http.NewHttpServerTransport()
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
		server.NewHTTPPeerFactory(int(serveCmdConfig.TimeoutSecond), s),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- serv.Serve() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		shutdownErr := shutdown(serv)
		if err != nil {
			return err
		}
		return shutdownErr
	case <-sig:
		server.Logger.Infof("shutting down")
		if err := shutdown(serv); err != nil {
			return err
		}
		return <-errCh
	}
}

func shutdown(serv *server.RPCServer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return serv.Shutdown(ctx)
}

// initConfig reads in ENV variables and env files if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("ddoc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
