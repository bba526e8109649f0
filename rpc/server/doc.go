// Package server implements the dDoc RPC server. A server hosts a fixed set of
// named databases and answers requests for them through a transport.
//
// Key Components:
//
//   - IRPCServerAdapter: translates a request message into calls on a
//     database.Database. NewDatabaseServerAdapter serves documents, the
//     replication protocol (changes with long polling, revsDiff, getRevs,
//     putRevs), views and replication control.
//
//   - PeerFactory: creates the remote peer of a replicate request.
//     NewHTTPPeerFactory reaches other dDoc servers over HTTP.
//
//   - RPCServer: owns the databases. With a data dir it restores snapshots on
//     startup, writes them periodically (only when a database changed) and on
//     shutdown. A views file is applied to every database and reapplied when it
//     changes on disk.
//
// Usage Example:
//
//	config := common.ServerConfig{
//		Databases:               []string{"books"},
//		Endpoint:                ":8080",
//		DataDir:                 "./data",
//		SnapshotIntervalSeconds: 60,
//		ViewsFile:               "views.yaml",
//		LogLevel:                "info",
//	}
//
//	s := server.NewRPCServer(
//		config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//		server.NewHTTPPeerFactory(5, serializer.NewJSONSerializer()),
//	)
//	if err := s.Serve(); err != nil {
//		log.Fatal(err)
//	}
package server
