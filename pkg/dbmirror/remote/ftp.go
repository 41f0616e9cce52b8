package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
)

const (
	defaultFTPPort = "21"
	anonymousUser  = "anonymous"
	anonymousPass  = "anonymous@"
)

// FTP is a repository served over FTP.
type FTP struct {
	// Addr is host:port.
	Addr string

	// Dir is the remote directory holding the entries.
	Dir string

	User     string
	Password string
	Options  Options
}

func newFTPFromURL(u *url.URL, opts Options) (*FTP, error) {
	if u.Hostname() == "" {
		return nil, fmt.Errorf("ftp URL %q has no host", u.String())
	}

	port := u.Port()
	if port == "" {
		port = defaultFTPPort
	}

	f := &FTP{
		Addr:     net.JoinHostPort(u.Hostname(), port),
		Dir:      u.Path,
		User:     opts.User,
		Password: opts.Password,
		Options:  opts,
	}
	if u.User != nil {
		f.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			f.Password = pw
		}
	}
	if f.User == "" {
		f.User = anonymousUser
		f.Password = anonymousPass
	}
	if f.Dir == "" {
		f.Dir = "/"
	}
	return f, nil
}

// String implements Repository.
func (f *FTP) String() string {
	return "ftp://" + f.Addr + f.Dir
}

// Connect dials, logs in and changes into the repository directory.
func (f *FTP) Connect(ctx context.Context) (Session, error) {
	timeout := f.Options.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conn, err := ftp.Dial(f.Addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(timeout),
		ftp.DialWithShutTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", f.Addr, err)
	}

	if err := conn.Login(f.User, f.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("logging in to %s: %w", f.Addr, err)
	}

	if err := conn.ChangeDir(f.Dir); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("changing to %s: %w", f.Dir, err)
	}

	return &ftpSession{conn: conn}, nil
}

type ftpSession struct {
	conn *ftp.ServerConn
}

// List issues NLST in the current directory.
func (s *ftpSession) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("listing: %w", err)
	}
	entries, err := s.conn.NameList("")
	if err != nil {
		return nil, fmt.Errorf("listing: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		// Some servers answer NLST with paths rather than bare names.
		names = append(names, path.Base(e))
	}
	return names, nil
}

// Fetch issues RETR and copies the data connection into w. Cancelling ctx
// aborts the transfer by expiring the data connection's deadline.
func (s *ftpSession) Fetch(ctx context.Context, name string, w io.Writer) (int64, error) {
	if err := validName(name); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("retrieving %s: %w", name, err)
	}

	resp, err := s.conn.Retr(name)
	if err != nil {
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return 0, fmt.Errorf("retrieving %s: %w", name, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = resp.SetDeadline(time.Now())
	})
	n, copyErr := io.Copy(w, resp)
	stop()
	closeErr := resp.Close()
	if err := ctx.Err(); err != nil {
		return n, fmt.Errorf("retrieving %s: %w", name, err)
	}
	if copyErr != nil {
		return n, fmt.Errorf("reading %s: %w", name, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("finishing %s: %w", name, closeErr)
	}
	return n, nil
}

// Close sends QUIT.
func (s *ftpSession) Close() error {
	return s.conn.Quit()
}
