// Package server implements the cruxbuild daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands.
// Each connection carries a single request-response exchange: the client
// sends a newline-delimited JSON envelope, the server dispatches the
// command, and writes the result back before closing the connection.
//
// Supported commands are build, status, invalidate and shutdown. Builds
// are delegated to the build package and share one fingerprint cache for
// the lifetime of the daemon, so repeated builds of the same recipe skip
// stages whose inputs have not changed. Closing the connection while a
// build is running cancels it.
//
// Example usage:
//
//	srv, err := server.New(server.Config{
//	    Provider: local.New(paths.Scratch(), nil),
//	    Cache:    cache.New(),
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
