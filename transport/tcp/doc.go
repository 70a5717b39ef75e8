// File: transport/tcp/doc.go
// Author: momentics <momentics@gmail.com>

// Package tcp provides the raw-descriptor TCP listener used by the master and
// the transferable connection handle that travels between master and workers.
//
// A Conn is owned by exactly one loop at a time. After its descriptor has been
// handed to another owner, Release closes the local copy and every further
// operation fails with api.ErrHandleTransferred.
package tcp
