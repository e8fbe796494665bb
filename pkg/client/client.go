// Package client implements the terminal chat client engine: TLS dial, the
// login/registration exchange, and the send/receive loops. The terminal
// front end in cmd/client stays thin on top of this.
package client

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// Config holds client connection configuration.
type Config struct {
	Addr     string // server address (host:port)
	CAFile   string // PEM file with the server's certificate or CA (optional)
	Insecure bool   // skip certificate verification (self-signed dev servers)
}

// Client is one connection to the chat server.
type Client struct {
	conn net.Conn
}

// Dial connects to the server over TLS.
func Dial(cfg Config) (*Client, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS13}
	switch {
	case cfg.Insecure:
		tlsCfg.InsecureSkipVerify = true //nolint:gosec // explicit -insecure opt-in
	case cfg.CAFile != "":
		pem, err := os.ReadFile(cfg.CAFile) //nolint:gosec // path from user-provided CLI config
		if err != nil {
			return nil, fmt.Errorf("client: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client: no certificates in %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	conn, err := tls.Dial("tcp", cfg.Addr, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", cfg.Addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// Login runs the authentication exchange. passwordFn is called once the
// server has said whether the username is known; registering is true when the
// server asked for a registration password. On success the returned string is
// the server's admission acknowledgment (the address it sees us as).
func (c *Client) Login(username string, passwordFn func(registering bool) (string, error)) (string, error) {
	if err := protocol.WriteFrame(c.conn, protocol.KeywordUsername+username); err != nil {
		return "", fmt.Errorf("client: send username: %w", err)
	}

	prompt, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return "", fmt.Errorf("client: read prompt: %w", err)
	}

	var keyword string
	switch prompt {
	case protocol.PromptKnownUser:
		keyword = protocol.KeywordPassword
	case protocol.PromptUnknownUser:
		keyword = protocol.KeywordRegister
	default:
		// Rejected before the password stage (bad username, server error).
		return "", fmt.Errorf("client: %s", prompt)
	}

	password, err := passwordFn(keyword == protocol.KeywordRegister)
	if err != nil {
		return "", err
	}
	if err := protocol.WriteFrame(c.conn, keyword+password); err != nil {
		return "", fmt.Errorf("client: send password: %w", err)
	}

	result, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return "", fmt.Errorf("client: read result: %w", err)
	}
	if result != protocol.LoginOK && result != protocol.RegisterOK {
		return "", fmt.Errorf("client: %s", result)
	}

	ack, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return "", fmt.Errorf("client: read admission ack: %w", err)
	}
	if addr, ok := protocol.CutKeyword(ack, protocol.KeywordClient); ok {
		return addr, nil
	}
	// Admission refused after a successful exchange (e.g. name already online).
	return "", fmt.Errorf("client: %s", ack)
}

// Send transmits one chat line.
func (c *Client) Send(line string) error {
	return protocol.WriteFrame(c.conn, line)
}

// Receive blocks for the next message from the server.
func (c *Client) Receive() (string, error) {
	return protocol.ReadFrame(c.conn)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run pumps lines from in to the server and prints received messages to out
// until the server closes the connection or in is exhausted.
func (c *Client) Run(in io.Reader, out io.Writer) error {
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := c.Send(line); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := c.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "Server closed the connection.")
				return nil
			}
			return fmt.Errorf("client: receive: %w", err)
		}
		fmt.Fprintln(out, msg)
	}
}
