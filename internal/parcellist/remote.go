package parcellist

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// remoteTimeout bounds a single list download.
var remoteTimeout = 60 * time.Second

// isRemote reports whether src is an http, https or ftp URL.
func isRemote(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ftp":
		return u.Host != ""
	}
	return false
}

// download copies a remote list into a temp file that keeps the source's
// extension, so format detection works the same as for local paths. The
// caller removes the returned file.
func download(ctx context.Context, src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", eris.Wrapf(err, "parcellist: parse %s", src)
	}

	var rc io.ReadCloser
	switch u.Scheme {
	case "ftp":
		rc, err = openFTP(ctx, u)
	default:
		rc, err = openHTTP(ctx, src)
	}
	if err != nil {
		return "", err
	}
	defer rc.Close() //nolint:errcheck

	f, err := os.CreateTemp("", "parcels-*"+path.Ext(u.Path))
	if err != nil {
		return "", eris.Wrap(err, "parcellist: create temp file")
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", eris.Wrapf(err, "parcellist: download %s", src)
	}

	zap.L().Debug("parcellist: downloaded list",
		zap.String("source", src),
		zap.Int64("bytes", n),
	)
	return f.Name(), nil
}

func openHTTP(ctx context.Context, src string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		cancel()
		return nil, eris.Wrap(err, "parcellist: create request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, eris.Wrapf(err, "parcellist: get %s", src)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() //nolint:errcheck
		cancel()
		return nil, eris.Errorf("parcellist: get %s: status %d", src, resp.StatusCode)
	}
	return &cancelReader{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelReader) Close() error {
	defer r.cancel()
	return r.ReadCloser.Close()
}

// ftpAddr returns host:port for an ftp URL, defaulting to port 21.
func ftpAddr(u *url.URL) string {
	if _, _, err := net.SplitHostPort(u.Host); err == nil {
		return u.Host
	}
	return net.JoinHostPort(u.Host, "21")
}

type ftpReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReader) Read(p []byte) (int, error) { return r.resp.Read(p) }

func (r *ftpReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "parcellist: close ftp response")
	}
	return eris.Wrap(quitErr, "parcellist: quit ftp")
}

func openFTP(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if u.Path == "" || u.Path == "/" {
		return nil, eris.Errorf("parcellist: ftp url %s has no file path", u.Redacted())
	}

	conn, err := ftp.Dial(ftpAddr(u), ftp.DialWithTimeout(remoteTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "parcellist: ftp dial")
	}

	user, pass := "anonymous", "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "parcellist: ftp login")
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "parcellist: ftp retrieve %s", u.Path)
	}
	return &ftpReader{resp: resp, conn: conn}, nil
}
