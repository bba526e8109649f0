package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/database"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/view"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("rpc")

// snapshotSuffix is the file extension of database snapshots in the data dir
const snapshotSuffix = ".ddoc"

// serverDatabase is a database hosted by the RPC server
type serverDatabase struct {
	db      *database.Database
	savedAt uint64 // last sequence written to the snapshot
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters.
// peers creates the remote side of replication requests; nil disables them.
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//		server.NewHTTPPeerFactory(5, 3),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	peers PeerFactory,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapter:    NewDatabaseServerAdapter(peers),
		databases:  xsync.NewMapOf[string, *serverDatabase](),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// RPCServer hosts named databases and serves RPC requests for them.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapter    IRPCServerAdapter
	databases  *xsync.MapOf[string, *serverDatabase]

	ctx    context.Context // lifetime of background work
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// --------------------------------------------------------------------------
// Request Handling
// --------------------------------------------------------------------------

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(ctx context.Context, name string, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		// Get appropriate database
		sdb, ok := s.databases.Load(name)

		// Case database does not exist -> error
		if !ok {
			respMsg = &common.Message{MsgType: common.MsgTError}
			respMsg.SetError(store.Errorf(store.RetCNotFound, "database %s not found", name))
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			// Let the adapter handle the request
			respMsg = s.adapter.Handle(ctx, &msg, sdb.db)
		}

		// Return result
		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize %s response: %v", respMsg.MsgType, err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})
}

// --------------------------------------------------------------------------
// Setup
// --------------------------------------------------------------------------

// Init creates the databases, restores snapshots, applies view definitions and
// starts the background work. Serve calls it.
func (s *RPCServer) Init() error {
	if len(s.config.Databases) == 0 {
		return fmt.Errorf("no databases configured")
	}

	// Function to create a new engine instance
	dbFactory := func() db.KVDB { return maple.NewMapleDB(nil) }

	// replication exclusivity is per server
	locks := lockmgr.NewLockManager(maple.NewMapleDB(&maple.DBOptions{NumShards: 1}))

	for _, name := range s.config.Databases {
		if _, ok := s.databases.Load(name); ok {
			return fmt.Errorf("database %s configured twice", name)
		}
		d, err := database.New(name, dbFactory, &database.Options{
			ViewWorkers:   s.config.IndexWorkers,
			EagerIndexing: s.config.EagerIndexing,
			Locks:         locks,
		})
		if err != nil {
			return err
		}
		sdb := &serverDatabase{db: d}
		if err := s.restore(sdb); err != nil {
			return err
		}
		s.databases.Store(name, sdb)
		Logger.Infof("created database %s (last sequence %d)", name, d.Store().LastSeq())
	}

	// View definitions
	if s.config.ViewsFile != "" {
		specs, err := view.LoadDefinitions(s.config.ViewsFile)
		if err != nil {
			return err
		}
		s.applyViews(specs)
		if err := view.WatchDefinitions(s.ctx, s.config.ViewsFile, s.applyViews); err != nil {
			return err
		}
	}

	// Snapshots
	if s.config.DataDir != "" && s.config.SnapshotIntervalSeconds > 0 {
		s.wg.Add(1)
		go s.snapshotLoop(time.Duration(s.config.SnapshotIntervalSeconds) * time.Second)
	}

	Logger.Infof("dDoc setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

// applyViews registers view definitions on every database
func (s *RPCServer) applyViews(specs []view.Spec) {
	s.databases.Range(func(name string, sdb *serverDatabase) bool {
		if err := sdb.db.ApplyViewDefinitions(specs); err != nil {
			Logger.Errorf("failed to apply view definitions to %s: %v", name, err)
		}
		return true
	})
}

// Serve initializes the server and serves requests on config.Endpoint until Shutdown
func (s *RPCServer) Serve() error {
	if err := s.Init(); err != nil {
		return err
	}
	Logger.Infof("Created RPC Server\n%s", s.config.String())
	return s.transport.Listen(s.config)
}

// ServeListener initializes the server and serves requests on l until Shutdown
func (s *RPCServer) ServeListener(l net.Listener) error {
	if err := s.Init(); err != nil {
		return err
	}
	return s.transport.Serve(l, s.config)
}

// Database returns a hosted database
func (s *RPCServer) Database(name string) (*database.Database, bool) {
	sdb, ok := s.databases.Load(name)
	if !ok {
		return nil, false
	}
	return sdb.db, true
}

// Shutdown stops the transport and background work, writes final snapshots
// and closes all databases.
func (s *RPCServer) Shutdown(ctx context.Context) error {
	var errs []error
	s.once.Do(func() {
		if err := s.transport.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.cancel()
		s.wg.Wait()

		s.databases.Range(func(name string, sdb *serverDatabase) bool {
			if err := s.snapshot(sdb); err != nil {
				errs = append(errs, err)
			}
			if err := sdb.db.Close(); err != nil {
				errs = append(errs, err)
			}
			return true
		})
	})
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

func (s *RPCServer) snapshotPath(name string) string {
	return filepath.Join(s.config.DataDir, name+snapshotSuffix)
}

// restore loads the snapshot of a database if one exists
func (s *RPCServer) restore(sdb *serverDatabase) error {
	if s.config.DataDir == "" {
		return nil
	}
	f, err := os.Open(s.snapshotPath(sdb.db.Name()))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if err := sdb.db.Load(f); err != nil {
		return fmt.Errorf("failed to restore %s: %w", sdb.db.Name(), err)
	}
	sdb.savedAt = sdb.db.Store().LastSeq()
	return nil
}

// snapshot writes the database to the data dir if it changed since the last snapshot.
// The file is replaced atomically.
func (s *RPCServer) snapshot(sdb *serverDatabase) error {
	if s.config.DataDir == "" {
		return nil
	}
	seq := sdb.db.Store().LastSeq()
	if seq == sdb.savedAt {
		return nil
	}
	if err := os.MkdirAll(s.config.DataDir, 0o755); err != nil {
		return err
	}

	path := s.snapshotPath(sdb.db.Name())
	tmp, err := os.CreateTemp(s.config.DataDir, sdb.db.Name()+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := sdb.db.Save(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to snapshot %s: %w", sdb.db.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	sdb.savedAt = seq
	Logger.Debugf("wrote snapshot of %s at sequence %d", sdb.db.Name(), seq)
	return nil
}

func (s *RPCServer) snapshotLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.databases.Range(func(name string, sdb *serverDatabase) bool {
				if err := s.snapshot(sdb); err != nil {
					Logger.Errorf("snapshot of %s failed: %v", name, err)
				}
				return true
			})
		}
	}
}
