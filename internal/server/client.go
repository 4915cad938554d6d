package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
)

// Sends one command to the daemon at socketPath and decodes the response
// payload into result, which may be nil.
//
// An error response from the daemon is returned as an error wrapping
// [ErrServer]. Cancelling ctx closes the connection, which cancels any
// build the daemon is running for it.
func Call(ctx context.Context, socketPath string, cmd Command, payload, result any) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("%w: connecting to %s: %w", ErrServer, socketPath, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req, err := Encode(cmd, payload)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(req, '\n')); err != nil {
		return fmt.Errorf("%w: %w", ErrServer, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: reading response: %w", ErrServer, err)
	}

	resp, err := Decode(line)
	if err != nil {
		return err
	}

	if resp.Command == CmdError {
		e, err := DecodePayload[ErrorResult](resp.Payload)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrServer, e.Message)
	}
	if resp.Command != CmdOK {
		return fmt.Errorf("%w: unexpected response %q", ErrProtocol, resp.Command)
	}

	if result == nil || len(resp.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Payload, result); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return nil
}
