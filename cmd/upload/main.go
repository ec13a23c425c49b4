// Command upload sends local files through a transfer channel and reports
// per-file progress.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/uploadhub/backend/internal/config"
	"github.com/uploadhub/backend/internal/filter"
	"github.com/uploadhub/backend/internal/logging"
	"github.com/uploadhub/backend/internal/models"
	"github.com/uploadhub/backend/internal/transfer"
	"github.com/uploadhub/backend/internal/upload"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// fieldsFlag collects repeated name=value flags.
type fieldsFlag []config.Field

func (f *fieldsFlag) String() string {
	parts := make([]string, len(*f))
	for i, fld := range *f {
		parts[i] = fld.Name + "=" + fld.Value
	}
	return strings.Join(parts, ",")
}

func (f *fieldsFlag) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", v)
	}
	*f = append(*f, config.Field{Name: name, Value: value})
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "XML configuration file (optional)")
		transport  = fs.String("transport", "", "http, websocket, s3 or minio")
		action     = fs.String("action", "", "target URL for http and websocket transports")
		fieldName  = fs.String("field", "", "multipart field name for the file")
		accept     = fs.String("accept", "", "accepted extensions and MIME types, e.g. .png,image/*")
		maxSize    = fs.String("max-size", "", "largest file to send, e.g. 10MB")
		compress   = fs.Bool("gzip", false, "gzip each file before sending")
		chunkKB    = fs.Int("chunk-kb", 0, "websocket chunk size in KiB")
		logLevel   = fs.String("log-level", "warn", "debug, info, warn or error")
		headers    fieldsFlag
		data       fieldsFlag
	)
	fs.Var(&headers, "header", "extra request header name=value (repeatable)")
	fs.Var(&data, "data", "extra form field name=value (repeatable)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: upload [flags] <path> [path...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg := config.DefaultConfig()
	cfg.Upload.MaxFileSize = ""
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Upload.Transport, *transport)
	set(&cfg.Upload.Action, *action)
	set(&cfg.Upload.FieldName, *fieldName)
	set(&cfg.Upload.Accept, *accept)
	set(&cfg.Upload.MaxFileSize, *maxSize)
	if *compress {
		cfg.Upload.Compress = true
	}
	if *chunkKB > 0 {
		cfg.Upload.ChunkSizeKB = *chunkKB
	}
	cfg.Upload.Headers = append(cfg.Upload.Headers, headers...)
	cfg.Upload.FormData = append(cfg.Upload.FormData, data...)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	var files []*models.File
	for _, path := range fs.Args() {
		f, err := models.FileFromPath(path)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		files = append(files, f)
	}

	channel, err := transfer.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	rep := &reporter{out: stdout}
	mgr, err := upload.NewManager(channel,
		upload.WithFilter(filter.FromConfig(cfg)),
		upload.WithLogger(logging.NewWithWriter(stderr, "upload", *logLevel)),
		upload.WithCallbacks(upload.Callbacks{
			OnProgress: rep.progress,
			OnSuccess:  rep.success,
			OnError:    rep.failure,
		}),
	)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	batch := mgr.Upload(ctx, files)
	batch.Wait()

	return rep.summary(len(files), mgr.Files())
}

// reporter prints callback events as lines; callbacks arrive from many
// goroutines at once.
type reporter struct {
	mu       sync.Mutex
	out      io.Writer
	filtered int
}

func (r *reporter) progress(percent int, f *models.File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%-40s %3d%%\n", f.Name, percent)
}

func (r *reporter) success(resp *models.Response, f *models.File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	where := resp.Location
	if where == "" && resp.StatusCode != 0 {
		where = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	fmt.Fprintf(r.out, "%-40s done %s\n", f.Name, where)
}

func (r *reporter) failure(err error, f *models.File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if errors.Is(err, upload.ErrFilter) {
		r.filtered++
	}
	fmt.Fprintf(r.out, "%-40s FAILED %v\n", f.Name, err)
}

// summary prints totals and returns the exit code.
func (r *reporter) summary(selected int, tracked []models.TrackedFile) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ok, failed []string
	for _, f := range tracked {
		switch f.Status {
		case models.UploadStatusSuccess:
			ok = append(ok, f.Name)
		case models.UploadStatusError:
			failed = append(failed, f.Name)
		}
	}
	sort.Strings(failed)
	skipped := selected - len(tracked) - r.filtered

	fmt.Fprintf(r.out, "%d succeeded, %d failed, %d skipped\n", len(ok), len(failed)+r.filtered, skipped)
	if len(failed) > 0 || r.filtered > 0 {
		return 1
	}
	return 0
}
