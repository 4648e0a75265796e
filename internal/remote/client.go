package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Entry describes one remote directory entry.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	IsDir   bool
	ModTime time.Time
}

// FS is the minimal remote filesystem surface the pipeline needs. The real
// implementation is *Client; tests substitute an in-memory fake.
type FS interface {
	List(ctx context.Context, dir string) ([]Entry, error)
	Read(ctx context.Context, path string) ([]byte, error)
}

// Target holds the connection parameters for one game server's SFTP host.
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Addr returns host:port for dialing.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, fmt.Sprintf("%d", port))
}

const (
	connectTimeout = 15 * time.Second
	maxAttempts    = 3
	initialBackoff = time.Second
)

// Client wraps one SSH+SFTP connection to a game server host.
type Client struct {
	target Target
	ssh    *ssh.Client
	sftp   *sftp.Client
	log    *logrus.Entry
}

// Dial connects to the target, retrying transient failures with exponential
// backoff (1s, 2s) up to three attempts total.
func Dial(ctx context.Context, target Target) (*Client, error) {
	cfg := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(target.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	logger := logrus.WithField("host", target.Addr())

	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sshClient, err := ssh.Dial("tcp", target.Addr(), cfg)
		if err == nil {
			sftpClient, err := sftp.NewClient(sshClient)
			if err != nil {
				sshClient.Close()
				return nil, fmt.Errorf("starting sftp subsystem: %w", err)
			}
			return &Client{target: target, ssh: sshClient, sftp: sftpClient, log: logger}, nil
		}

		lastErr = err
		logger.WithError(err).WithField("attempt", attempt).Warn("sftp connect failed")
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("connecting to %s after %d attempts: %w", target.Addr(), maxAttempts, lastErr)
}

// List returns the immediate entries of a remote directory.
func (c *Client) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := c.sftp.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{
			Name:    info.Name(),
			Path:    path.Join(dir, info.Name()),
			Size:    info.Size(),
			IsDir:   info.IsDir(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// Stat returns the entry for a single remote path.
func (c *Client) Stat(ctx context.Context, p string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	info, err := c.sftp.Stat(p)
	if err != nil {
		return Entry{}, fmt.Errorf("stat %s: %w", p, err)
	}
	return Entry{Name: info.Name(), Path: p, Size: info.Size(), IsDir: info.IsDir(), ModTime: info.ModTime()}, nil
}

// Read downloads an entire remote file into memory. Kill logs are small
// (single match each), so whole-file reads keep the pipeline simple.
func (c *Client) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := c.sftp.Open(p)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", p, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

// Close tears down the SFTP session and SSH connection.
func (c *Client) Close() error {
	var firstErr error
	if c.sftp != nil {
		firstErr = c.sftp.Close()
	}
	if c.ssh != nil {
		if err := c.ssh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
