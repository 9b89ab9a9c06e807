package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Exec channel frame types.
const (
	ExecRequestFrame FrameType = 0x01
	ExecOutputFrame  FrameType = 0x02
	ExecErrorFrame   FrameType = 0x03
)

const (
	// DefaultExecTimeout applies when a request omits TimeoutNS.
	DefaultExecTimeout = 5 * time.Second
	// MaxExecTimeout is the ceiling a request's TimeoutNS is clamped to.
	MaxExecTimeout = 24 * time.Hour
)

// ExecRequest is the JSON payload of an Exec 0x01 Request frame.
type ExecRequest struct {
	Cmd        []string `json:"cmd"`
	Env        []string `json:"env,omitempty"`
	WorkingDir string   `json:"workingDir,omitempty"`
	User       string   `json:"user,omitempty"`
	TimeoutNS  int64    `json:"timeoutNs,omitempty"`
}

// Timeout returns the request's configured timeout, clamped to
// [0, MaxExecTimeout] and defaulted when unset.
func (r ExecRequest) Timeout() time.Duration {
	if r.TimeoutNS <= 0 {
		return DefaultExecTimeout
	}
	d := time.Duration(r.TimeoutNS)
	if d > MaxExecTimeout {
		return MaxExecTimeout
	}
	return d
}

// ExecOutput is the JSON payload of an Exec 0x02 Output frame.
type ExecOutput struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exitCode"`
	Truncated bool   `json:"truncated"`
}

// ExecHandler runs one exec request and returns its captured output.
// LocalExecHandler fulfills it by running the command on the host,
// grounded on pkg/engine/health.go's localExecRunner, for dev/test
// mode and for the guest-side agent process this channel targets in
// production.
type ExecHandler interface {
	Exec(ctx context.Context, req ExecRequest) (ExecOutput, error)
}

// LocalExecHandler runs exec requests as host subprocesses.
type LocalExecHandler struct{}

func (LocalExecHandler) Exec(ctx context.Context, req ExecRequest) (ExecOutput, error) {
	if len(req.Cmd) == 0 {
		return ExecOutput{}, fmt.Errorf("transport: exec request has no command")
	}
	execCtx, cancel := context.WithTimeout(ctx, req.Timeout())
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.Cmd[0], req.Cmd[1:]...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Env = req.Env

	stdout := newTruncatingBuffer(MaxStreamBytes)
	stderr := newTruncatingBuffer(MaxStreamBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return ExecOutput{}, fmt.Errorf("transport: exec: %w", err)
		}
	}

	return ExecOutput{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode,
		Truncated: stdout.truncated || stderr.truncated,
	}, nil
}

// ServeExec reads one Request frame from conn, runs it through
// handler, and writes a single Output or Error frame in response.
// Exec connections are single-use: the caller should close conn once
// this returns.
func ServeExec(ctx context.Context, conn *Conn, handler ExecHandler) error {
	frame, err := conn.ReadFrame()
	if err != nil {
		return err
	}
	if frame.Type != ExecRequestFrame {
		return conn.WriteFrame(ExecErrorFrame, []byte(fmt.Sprintf("expected request frame, got %d", frame.Type)))
	}

	var req ExecRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return conn.WriteFrame(ExecErrorFrame, []byte(err.Error()))
	}

	out, err := handler.Exec(ctx, req)
	if err != nil {
		return conn.WriteFrame(ExecErrorFrame, []byte(err.Error()))
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("transport: marshal exec output: %w", err)
	}
	return conn.WriteFrame(ExecOutputFrame, payload)
}

// RunExec dials the exec channel, sends req, and waits for the
// resulting Output or Error frame.
func RunExec(ctx context.Context, dialer Dialer, req ExecRequest) (*ExecOutput, error) {
	nc, err := dialer.DialChannel(ctx, PortExec)
	if err != nil {
		return nil, err
	}
	conn := NewConn(nc)
	defer conn.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal exec request: %w", err)
	}
	if err := conn.WriteFrame(ExecRequestFrame, payload); err != nil {
		return nil, err
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		return nil, err
	}
	switch frame.Type {
	case ExecOutputFrame:
		var out ExecOutput
		if err := json.Unmarshal(frame.Payload, &out); err != nil {
			return nil, fmt.Errorf("transport: unmarshal exec output: %w", err)
		}
		return &out, nil
	case ExecErrorFrame:
		return nil, fmt.Errorf("transport: exec error: %s", frame.Payload)
	default:
		return nil, fmt.Errorf("transport: unexpected exec frame type %d", frame.Type)
	}
}
