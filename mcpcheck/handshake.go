package mcpcheck

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"

	"github.com/sourcegraph/jsonrpc2"
)

const protocolVersion = "2024-11-05"

// ProcessHandshake spawns the configured command and performs the MCP
// initialize exchange over newline-delimited JSON-RPC on its stdio.
type ProcessHandshake struct {
	ClientName    string
	ClientVersion string
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ServerInfo      clientInfo      `json:"serverInfo"`
}

// Handshake implements Handshaker. The process is killed before returning.
func (h ProcessHandshake) Handshake(ctx context.Context, srv Server) error {
	if srv.Command == "" {
		return errors.New("command is required")
	}
	cmd := exec.CommandContext(ctx, srv.Command, srv.Args...)
	cmd.Env = os.Environ()
	for key, value := range srv.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	cmd.Stderr = io.Discard
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	rwc := &pipeReadWriteCloser{reader: stdout, writer: stdin}
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.PlainObjectCodec{})
	handler := jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
		if req.Notif {
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled"}
	})
	conn := jsonrpc2.NewConn(ctx, stream, handler)
	defer conn.Close()

	name := h.ClientName
	if name == "" {
		name = "vision2ui-bridge"
	}
	version := h.ClientVersion
	if version == "" {
		version = "0.1.0"
	}
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: name, Version: version},
	}
	var result initializeResult
	if err := conn.Call(ctx, "initialize", params, &result); err != nil {
		return err
	}
	if result.ProtocolVersion == "" {
		return errors.New("initialize returned no protocol version")
	}
	return conn.Notify(ctx, "notifications/initialized", nil)
}

type pipeReadWriteCloser struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (p *pipeReadWriteCloser) Read(b []byte) (int, error)  { return p.reader.Read(b) }
func (p *pipeReadWriteCloser) Write(b []byte) (int, error) { return p.writer.Write(b) }
func (p *pipeReadWriteCloser) Close() error {
	_ = p.reader.Close()
	return p.writer.Close()
}
