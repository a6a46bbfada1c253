package protocol

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/dataforge/fetcher/internal/gate"
	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/ocerrors"
	"github.com/dataforge/fetcher/internal/retry"
)

// SftpProtocolConfig names one SFTP connection pool.
type SftpProtocolConfig struct {
	Name       string
	Host       string
	Port       int
	User       string
	Password   string // used when PrivateKey is nil
	PrivateKey []byte
	RPS        float64
	Retry      retry.Config
	Gates      gate.Sequence
	Timeout    time.Duration
}

func (c SftpProtocolConfig) normalized() SftpProtocolConfig {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

func (c SftpProtocolConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c SftpProtocolConfig) authMethods() ([]ssh.AuthMethod, error) {
	if len(c.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(c.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("sftp pool %q: parse private key: %w", c.Name, ocerrors.ErrInvalidConfiguration)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(c.Password)}, nil
}

type sftpPoolEntry struct {
	cfg        SftpProtocolConfig
	limiter    *RateLimiter
	breaker    *CircuitBreaker
	mu         sync.Mutex
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// SftpManager maintains one lazily-connected session per named
// SftpProtocolConfig, reconnecting on failure the way the teacher
// framework's discovery pool reconnects Redis sessions.
type SftpManager struct {
	mu     sync.Mutex
	pools  map[string]*sftpPoolEntry
	logger logging.Logger
}

// NewSftpManager builds an empty SftpManager.
func NewSftpManager(logger logging.Logger) *SftpManager {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &SftpManager{pools: make(map[string]*sftpPoolEntry), logger: logger}
}

func (m *SftpManager) pool(cfg SftpProtocolConfig) *sftpPoolEntry {
	cfg = cfg.normalized()

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[cfg.Name]; ok {
		return p
	}
	entry := &sftpPoolEntry{
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RPS),
		breaker: NewCircuitBreaker(cfg.Breaker(), m.logger),
	}
	m.pools[cfg.Name] = entry
	return entry
}

// Breaker builds a CircuitBreakerConfig scoped to this SFTP pool's name.
// Kept as a method so SftpProtocolConfig doesn't need its own field when
// callers are happy with the defaults.
func (c SftpProtocolConfig) Breaker() CircuitBreakerConfig {
	return CircuitBreakerConfig{Name: c.Name}
}

func (e *sftpPoolEntry) connect(ctx context.Context) (*sftp.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sftpClient != nil {
		return e.sftpClient, nil
	}

	auth, err := e.cfg.authMethods()
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            e.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: wire a known_hosts callback once a config surface exists
		Timeout:         e.cfg.Timeout,
	}

	dialer := net.Dialer{Timeout: e.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", e.cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("sftp pool %q: dial %s: %w", e.cfg.Name, e.cfg.addr(), ocerrors.ErrConnectionFailed)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, e.cfg.addr(), sshCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sftp pool %q: ssh handshake: %w", e.cfg.Name, ocerrors.ErrConnectionFailed)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("sftp pool %q: open sftp session: %w", e.cfg.Name, ocerrors.ErrConnectionFailed)
	}

	e.sshClient = sshClient
	e.sftpClient = sftpClient
	return sftpClient, nil
}

// invalidate drops the cached session so the next call reconnects.
func (e *sftpPoolEntry) invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sftpClient != nil {
		e.sftpClient.Close()
		e.sftpClient = nil
	}
	if e.sshClient != nil {
		e.sshClient.Close()
		e.sshClient = nil
	}
}

func (m *SftpManager) withSession(ctx context.Context, cfg SftpProtocolConfig, fn func(*sftp.Client) (interface{}, error)) (interface{}, error) {
	entry := m.pool(cfg)

	if entry.cfg.Gates != nil {
		if err := entry.cfg.Gates.WaitIfNeeded(ctx); err != nil {
			return nil, fmt.Errorf("sftp pool %q: gate wait: %w", cfg.Name, err)
		}
	}

	return retry.ExecuteValue(ctx, entry.cfg.Retry, func() (interface{}, error) {
		if err := entry.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		client, err := entry.connect(ctx)
		if err != nil {
			return nil, err
		}

		result, err := entry.breaker.Execute(ctx, func() (interface{}, error) {
			return fn(client)
		})
		if err != nil {
			entry.invalidate()
			return nil, err
		}
		return result, nil
	})
}

// Listdir lists the directory entries under path.
func (m *SftpManager) Listdir(ctx context.Context, cfg SftpProtocolConfig, path string) ([]fs.FileInfo, error) {
	result, err := m.withSession(ctx, cfg, func(c *sftp.Client) (interface{}, error) {
		entries, err := c.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("sftp pool %q: readdir %s: %w", cfg.Name, path, ocerrors.ErrRequestFailed)
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]fs.FileInfo), nil
}

// Stat returns file metadata for path.
func (m *SftpManager) Stat(ctx context.Context, cfg SftpProtocolConfig, path string) (fs.FileInfo, error) {
	var notFound error
	result, err := m.withSession(ctx, cfg, func(c *sftp.Client) (interface{}, error) {
		info, statErr := c.Stat(path)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				// Not an operation failure: end the attempt without retrying.
				notFound = statErr
				return nil, nil
			}
			return nil, fmt.Errorf("sftp pool %q: stat %s: %w", cfg.Name, path, ocerrors.ErrRequestFailed)
		}
		return info, nil
	})
	if notFound != nil {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}
	return result.(fs.FileInfo), nil
}

// Exists reports whether path exists, swallowing not-found into false.
func (m *SftpManager) Exists(ctx context.Context, cfg SftpProtocolConfig, path string) (bool, error) {
	_, err := m.Stat(ctx, cfg, path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Open streams path's contents. The caller must Close the returned reader.
func (m *SftpManager) Open(ctx context.Context, cfg SftpProtocolConfig, path string) (io.ReadCloser, error) {
	result, err := m.withSession(ctx, cfg, func(c *sftp.Client) (interface{}, error) {
		f, err := c.Open(path)
		if err != nil {
			return nil, fmt.Errorf("sftp pool %q: open %s: %w", cfg.Name, path, ocerrors.ErrRequestFailed)
		}
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(io.ReadCloser), nil
}

// Close tears down every pooled session.
func (m *SftpManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pools {
		p.invalidate()
	}
	return nil
}
