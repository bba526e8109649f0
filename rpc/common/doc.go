// Package common provides the data structures shared by the RPC client and
// server of dDoc.
//
// Key Components:
//
//   - Message: the single structure used for all requests and responses. Which
//     fields are set depends on the MessageType. Factory functions create the
//     request and response of every operation. Typed store errors travel as
//     code name plus message and are restored by Message.Error.
//
//   - MessageType: all supported operations, grouped into document operations,
//     the replication protocol (changes, revsDiff, getRevs, putRevs), views and
//     replication control.
//
//   - ServerConfig / ClientConfig: configuration of server and client, with
//     String methods for a readable startup summary.
//
//   - Logger: implementation of dragonboat's logger.ILogger used by all
//     packages, writing "LEVEL | name | message" lines.
package common
