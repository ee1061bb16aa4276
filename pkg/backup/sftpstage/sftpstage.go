// Package sftpstage fetches extracted snapshot packages from a remote
// engine host into the local staging directory over SFTP. It covers setups
// where the snapshot engine and the replicator run on different machines.
package sftpstage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds the SFTP connection parameters for the engine host.
type Config struct {
	Host      string
	Port      int
	User      string
	Pass      string
	RemoteDir string // directory holding extracted packages on the engine host
	// KnownHostsFile overrides the default ~/.ssh/known_hosts location used
	// to verify the engine host's key.
	KnownHostsFile string
	// InsecureIgnoreHostKey skips host key verification entirely. Dev setups
	// only.
	InsecureIgnoreHostKey bool
}

// Stager downloads one package directory per call.
type Stager struct {
	cfg Config
}

func New(cfg Config) (*Stager, error) {
	if cfg.Host == "" || cfg.User == "" || cfg.Pass == "" {
		return nil, errors.New("sftp staging requires host, user and password")
	}
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "/"
	}
	return &Stager{cfg: cfg}, nil
}

// Stage copies the remote package directory identified by packageID into
// destDir. Files already present locally are overwritten; the remote side is
// never modified.
func (s *Stager) Stage(ctx context.Context, packageID, destDir string) error {
	client, closeAll, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	remoteRoot := path.Join(s.cfg.RemoteDir, packageID)

	walker := client.Walk(remoteRoot)
	copied := 0
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return errors.Errorf("walking %s: %w", remoteRoot, err)
		}
		if walker.Stat().IsDir() {
			continue
		}

		rel, err := filepath.Rel(remoteRoot, walker.Path())
		if err != nil {
			return errors.Errorf("relativizing %s: %w", walker.Path(), err)
		}
		if err := s.fetchFile(client, walker.Path(), filepath.Join(destDir, rel)); err != nil {
			return err
		}
		copied++
	}

	zerolog.Ctx(ctx).Debug().
		Str("package", packageID).
		Int("files", copied).
		Msg("package staged from engine host")
	return nil
}

func (s *Stager) fetchFile(client *sftp.Client, remotePath, localPath string) error {
	src, err := client.Open(remotePath)
	if err != nil {
		return errors.Errorf("opening remote file %s: %w", remotePath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return errors.Errorf("creating staging directory: %w", err)
	}

	dst, err := os.Create(localPath)
	if err != nil {
		return errors.Errorf("creating local file %s: %w", localPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Errorf("copying %s: %w", remotePath, err)
	}
	return nil
}

// hostKeyCallback verifies the engine host against known_hosts unless the
// config explicitly opts out of verification.
func (s *Stager) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := s.cfg.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Errorf("resolving home directory for known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, errors.Errorf("loading known_hosts %s: %w", file, err)
	}
	return cb, nil
}

func (s *Stager) dial(ctx context.Context) (*sftp.Client, func(), error) {
	hostKey, err := s.hostKeyCallback()
	if err != nil {
		return nil, nil, err
	}
	sshCfg := &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(s.cfg.Pass)},
		HostKeyCallback: hostKey,
		Timeout:         20 * time.Second,
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	type dialRes struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialRes, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, sshCfg)
		ch <- dialRes{client: c, err: err}
	}()

	var sshClient *ssh.Client
	select {
	case <-ctx.Done():
		return nil, nil, errors.Errorf("sftp dial canceled: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, nil, errors.Errorf("sftp dial %s: %w", addr, r.err)
		}
		sshClient = r.client
	}

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, errors.Errorf("creating sftp client: %w", err)
	}
	return client, func() {
		client.Close()
		sshClient.Close()
	}, nil
}
