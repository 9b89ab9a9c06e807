// Package client is a thin HTTP-over-Unix-domain-socket client for
// a3s box's control API (pkg/api).
//
// cuemby-warren's pkg/client wraps a generated gRPC stub and
// negotiates mTLS against a remote manager node, because warren's
// API crosses a network boundary between independently-administered
// hosts. a3s box has no such boundary: cmd/box and cmd/boxd run on
// the same machine as the same user, talking over a Unix-domain
// socket whose file permissions are the only authentication this
// client needs. So where warren's client holds a *grpc.ClientConn
// plus a generated proto.WarrenAPIClient, this one holds a plain
// *http.Client dialed against the socket, and its methods marshal
// types.BoxConfig/types.Image/etc. as JSON instead of protobuf.
package client
