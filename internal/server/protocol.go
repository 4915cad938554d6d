package server

import (
	"encoding/json"
	"fmt"

	"github.com/cruciblehq/cruxbuild/internal/build"
)

// Name of a daemon command or response kind.
type Command string

const (
	CmdBuild      Command = "build"
	CmdStatus     Command = "status"
	CmdInvalidate Command = "invalidate"
	CmdShutdown   Command = "shutdown"

	CmdOK    Command = "ok"
	CmdError Command = "error"
)

// Wire frame of every request and response.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Payload of a build request.
type BuildRequest struct {
	Recipe      string            `json:"recipe"`                 // Absolute path of the recipe file.
	Output      string            `json:"output,omitempty"`       // Directory for image.tar. Empty skips writing the image.
	Tag         string            `json:"tag,omitempty"`          // Reference recorded in the image archive.
	WorkerLimit int               `json:"worker_limit,omitempty"` // Overrides the daemon default.
	Labels      map[string]string `json:"labels,omitempty"`       // Labels recorded in the image config.
}

// Payload of a build response.
type BuildResult struct {
	Report   *build.Report `json:"report"`
	Image    string        `json:"image,omitempty"` // Path of the written image archive.
	Error    string        `json:"error,omitempty"`
	ExitCode int           `json:"exit_code"`
}

// Payload of a status response.
type StatusResult struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
	Pid     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Builds  int    `json:"builds"`
	Cached  int    `json:"cached"` // Fingerprint cache entries.
}

// Payload of an invalidate response.
type InvalidateResult struct {
	Dropped int `json:"dropped"`
}

// Payload of an error response.
type ErrorResult struct {
	Message string `json:"message"`
}

// Encodes a command and its payload as a single JSON line, without the
// trailing newline.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding %s payload: %w", ErrProtocol, cmd, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decodes an envelope, leaving the payload raw.
func Decode(line []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if env.Command == "" {
		return nil, fmt.Errorf("%w: missing command", ErrProtocol)
	}
	return &env, nil
}

// Decodes a raw payload into T.
func DecodePayload[T any](raw json.RawMessage) (*T, error) {
	var v T
	if len(raw) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return &v, nil
}
