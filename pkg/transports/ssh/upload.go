package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// Upload writes data to remotePath over SFTP and sets its mode.
func (c *Client) Upload(ctx context.Context, data []byte, remotePath string, mode os.FileMode) error {
	conn, err := c.client()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		return &TransportError{Op: "sftp-init", Err: fmt.Errorf("failed to create SFTP client: %w", err), IsTemporary: true}
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}

	f, err := sftpClient.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create remote file: %w", err), IsTemporary: true}
	}

	if _, err := copyWithContext(ctx, f, bytes.NewReader(data)); err != nil {
		_ = f.Close()
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to write remote file: %w", err), IsTemporary: true}
	}
	if err := f.Close(); err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to close remote file: %w", err), IsTemporary: true}
	}

	if err := sftpClient.Chmod(remotePath, mode); err != nil {
		return &TransportError{Op: "upload", Err: fmt.Errorf("failed to set file permissions: %w", err)}
	}

	c.logger.WithFields(map[string]interface{}{
		"remote": remotePath,
		"bytes":  len(data),
	}).Debug("Uploaded file")
	return nil
}

// Remove deletes a remote file over SFTP.
func (c *Client) Remove(remotePath string) error {
	conn, err := c.client()
	if err != nil {
		return err
	}
	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		return &TransportError{Op: "sftp-init", Err: err, IsTemporary: true}
	}
	defer sftpClient.Close()
	if err := sftpClient.Remove(remotePath); err != nil && !os.IsNotExist(err) {
		return &TransportError{Op: "remove", Err: err}
	}
	return nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
