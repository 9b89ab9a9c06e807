package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// PTY channel frame types.
const (
	PTYRequestFrame FrameType = 0x01
	PTYDataFrame    FrameType = 0x02
	PTYResizeFrame  FrameType = 0x03
	PTYExitFrame    FrameType = 0x04
	PTYErrorFrame   FrameType = 0x05
)

// PTYRequest is the JSON payload of a PTY 0x01 Request frame.
type PTYRequest struct {
	Cmd  []string `json:"cmd"`
	Rows uint16   `json:"rows"`
	Cols uint16   `json:"cols"`
	Env  []string `json:"env,omitempty"`
}

// PTYResize is the JSON payload of a PTY 0x03 Resize frame.
type PTYResize struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// PTYExit is the JSON payload of a PTY 0x04 Exit frame.
type PTYExit struct {
	Code      int  `json:"code"`
	Truncated bool `json:"truncated"`
}

// ServePTY runs req.Cmd attached to a real pseudo-terminal, using
// creack/pty the same way spec.md's dev/test mode calls for, and
// pumps Data/Resize frames between conn and the pty until the process
// exits. It blocks until the session ends (Exit frame written and
// conn closed by the caller), matching spec.md's "PTY sessions
// persist until Exit frame".
func ServePTY(ctx context.Context, conn *Conn) error {
	frame, err := conn.ReadFrame()
	if err != nil {
		return err
	}
	if frame.Type != PTYRequestFrame {
		return conn.WriteFrame(PTYErrorFrame, []byte(fmt.Sprintf("expected request frame, got %d", frame.Type)))
	}

	var req PTYRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return conn.WriteFrame(PTYErrorFrame, []byte(err.Error()))
	}
	if len(req.Cmd) == 0 {
		req.Cmd = []string{"/bin/sh"}
	}

	cmd := exec.CommandContext(ctx, req.Cmd[0], req.Cmd[1:]...)
	cmd.Env = req.Env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: req.Rows, Cols: req.Cols})
	if err != nil {
		return conn.WriteFrame(PTYErrorFrame, []byte(err.Error()))
	}
	defer ptmx.Close()

	var mu sync.Mutex
	var sent int64
	var truncated bool
	outputDone := make(chan struct{})

	go func() {
		defer close(outputDone)
		buf := make([]byte, 32*1024)
		for {
			n, readErr := ptmx.Read(buf)
			if n > 0 {
				mu.Lock()
				remaining := int64(MaxStreamBytes) - sent
				chunk := buf[:n]
				if remaining <= 0 {
					truncated = true
					chunk = nil
				} else if int64(len(chunk)) > remaining {
					chunk = chunk[:remaining]
					truncated = true
				}
				sent += int64(len(chunk))
				mu.Unlock()
				if len(chunk) > 0 {
					if writeErr := conn.WriteFrame(PTYDataFrame, chunk); writeErr != nil {
						return
					}
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	// Pumps client input into the pty for the life of the session; it
	// exits when conn is closed after the Exit frame is sent below.
	go func() {
		for {
			frame, err := conn.ReadFrame()
			if err != nil {
				return
			}
			switch frame.Type {
			case PTYDataFrame:
				if _, err := ptmx.Write(frame.Payload); err != nil {
					return
				}
			case PTYResizeFrame:
				var rs PTYResize
				if err := json.Unmarshal(frame.Payload, &rs); err == nil {
					_ = pty.Setsize(ptmx, &pty.Winsize{Rows: rs.Rows, Cols: rs.Cols})
				}
			}
		}
	}()

	waitErr := cmd.Wait()
	<-outputDone

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	mu.Lock()
	tr := truncated
	mu.Unlock()

	payload, err := json.Marshal(PTYExit{Code: exitCode, Truncated: tr})
	if err != nil {
		return fmt.Errorf("transport: marshal pty exit: %w", err)
	}
	return conn.WriteFrame(PTYExitFrame, payload)
}

// Session drives an interactive PTY session from the host side.
type Session struct {
	conn   *Conn
	Output chan []byte
	Exit   chan PTYExit
}

// OpenPTY dials the PTY channel and starts req running.
func OpenPTY(ctx context.Context, dialer Dialer, req PTYRequest) (*Session, error) {
	nc, err := dialer.DialChannel(ctx, PortPTY)
	if err != nil {
		return nil, err
	}
	conn := NewConn(nc)

	payload, err := json.Marshal(req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: marshal pty request: %w", err)
	}
	if err := conn.WriteFrame(PTYRequestFrame, payload); err != nil {
		conn.Close()
		return nil, err
	}

	s := &Session{
		conn:   conn,
		Output: make(chan []byte, 16),
		Exit:   make(chan PTYExit, 1),
	}
	go s.readLoop()
	return s, nil
}

func (s *Session) readLoop() {
	defer close(s.Output)
	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			return
		}
		switch frame.Type {
		case PTYDataFrame:
			s.Output <- frame.Payload
		case PTYExitFrame:
			var exit PTYExit
			_ = json.Unmarshal(frame.Payload, &exit)
			s.Exit <- exit
			return
		case PTYErrorFrame:
			return
		}
	}
}

// Write sends raw keystrokes to the remote pty.
func (s *Session) Write(p []byte) error {
	return s.conn.WriteFrame(PTYDataFrame, p)
}

// Resize notifies the remote pty of a terminal size change.
func (s *Session) Resize(rows, cols uint16) error {
	payload, err := json.Marshal(PTYResize{Rows: rows, Cols: cols})
	if err != nil {
		return err
	}
	return s.conn.WriteFrame(PTYResizeFrame, payload)
}

// Close ends the session.
func (s *Session) Close() error {
	return s.conn.Close()
}
