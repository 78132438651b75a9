package winestage

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Fetcher downloads url into the file dest.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// SourceURL expands the %NAME%, %VERSION% and %SERIES% placeholders of tmpl.
func SourceURL(tmpl, name string, v Version) string {
	r := strings.NewReplacer(
		"%NAME%", name,
		"%VERSION%", v.String(),
		"%SERIES%", v.Series(),
		"%MAJORMINOR%", v.MajorMinor(),
	)
	return r.Replace(tmpl)
}

// ArchiveName is the file name component of an archive URL.
func ArchiveName(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return path.Base(url)
}

func newHttpClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Minute,
	}
}

// HTTPFetcher tries curl, then wget, then the Go HTTP client.
type HTTPFetcher struct {
	Console *Console
	Quiet   bool
	Client  *http.Client

	lookPath func(string) (string, error)
}

// NewHTTPFetcher returns a fetcher using the system tools when present.
func NewHTTPFetcher(console *Console, quiet bool) *HTTPFetcher {
	return &HTTPFetcher{Console: console, Quiet: quiet, Client: newHttpClient(), lookPath: exec.LookPath}
}

func (f *HTTPFetcher) have(tool string) bool {
	look := f.lookPath
	if look == nil {
		look = exec.LookPath
	}
	_, err := look(tool)
	return err == nil
}

// Fetch downloads url to dest. A partially written dest is removed on failure.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, dest string) error {
	f.Console.Debugf("Downloading %s -> %s\n", url, dest)

	var errs []error
	if f.have("curl") {
		err := f.curl(ctx, url, dest)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("curl: %w", err))
		f.Console.Debugf("curl failed, falling back to wget\n")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if f.have("wget") {
		err := f.wget(ctx, url, dest)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("wget: %w", err))
		f.Console.Debugf("wget failed, falling back to native HTTP client\n")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	err := f.native(ctx, url, dest)
	if err == nil {
		return nil
	}
	os.Remove(dest)
	errs = append(errs, fmt.Errorf("http: %w", err))
	return errors.Join(errs...)
}

func (f *HTTPFetcher) curl(ctx context.Context, url, dest string) error {
	args := []string{"-L", "--fail", "-o", dest}
	if f.Quiet {
		args = append(args, "-sS", url)
		cmd := exec.CommandContext(ctx, "curl", args...)
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		return cmd.Run()
	}

	cmd := exec.CommandContext(ctx, "curl", append(args, "-#", url)...)
	out := f.Console.writer()
	cmd.Stdout = out
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	// colour curl's '#' progress bar, pass anything else through
	blue := "\x1b[" + color.Blue.Code() + "m"
	reset := "\x1b[0m"
	reader := bufio.NewReader(stderr)
	for {
		chunk, err := reader.ReadBytes('\r')
		if len(chunk) > 0 {
			line := string(chunk)
			if strings.HasPrefix(strings.TrimSpace(line), "#") {
				fmt.Fprintf(out, "%s%s%s", blue, line, reset)
			} else {
				fmt.Fprint(out, line)
			}
		}
		if err != nil {
			break
		}
	}
	err = cmd.Wait()
	fmt.Fprintln(out)
	return err
}

func (f *HTTPFetcher) wget(ctx context.Context, url, dest string) error {
	flag := "-nv"
	if f.Quiet {
		flag = "-q"
	}
	cmd := exec.CommandContext(ctx, "wget", flag, "-O", dest, url)
	if f.Quiet {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	} else {
		cmd.Stdout = f.Console.writer()
		cmd.Stderr = f.Console.writer()
	}
	return cmd.Run()
}

func (f *HTTPFetcher) native(ctx context.Context, url, dest string) error {
	client := f.Client
	if client == nil {
		client = newHttpClient()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	var w io.Writer = out
	if !f.Quiet && isTerminal(f.Console.writer()) {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(f.Console.writer()),
			progressbar.OptionSetDescription(ArchiveName(url)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		w = io.MultiWriter(out, bar)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return out.Close()
}

// isTerminal reports whether w is a terminal file descriptor.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ChainFetcher tries each fetcher in order until one succeeds.
type ChainFetcher struct {
	Fetchers []Fetcher
	Console  *Console
}

func (c *ChainFetcher) Fetch(ctx context.Context, url, dest string) error {
	if len(c.Fetchers) == 0 {
		return errors.New("no fetcher configured")
	}
	var errs []error
	for _, f := range c.Fetchers {
		err := f.Fetch(ctx, url, dest)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		os.Remove(dest)
		c.Console.Debugf("fetcher %T failed: %v\n", f, err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
