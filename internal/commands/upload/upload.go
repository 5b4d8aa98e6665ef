package upload

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"formrelay/internal/client"
	"formrelay/internal/config"
	"formrelay/internal/storage"
	"formrelay/internal/upload"

	"github.com/rs/zerolog/log"
)

// Flags are the upload command's flags. Zero values fall back to config.
type Flags struct {
	Key    string
	Bucket string
	Wait   time.Duration
	Remote string
}

const (
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

// Run uploads the file at path. With flags.Remote set the file is posted to
// a running server; otherwise the verified upload runs against the
// configured backend and the outcome is printed to out.
func Run(ctx context.Context, flags Flags, path string, out io.Writer) error {
	if flags.Remote != "" {
		return runRemote(ctx, flags, path, out)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	bucket := cfg.Upload.Bucket
	if flags.Bucket != "" {
		bucket = flags.Bucket
	}
	wait := cfg.Upload.Wait
	if flags.Wait > 0 {
		wait = flags.Wait
	}
	key := flags.Key
	if key == "" {
		key = filepath.Base(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.Storage, bucket)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	uploader := upload.New(store,
		upload.WithStrictBucket(cfg.Upload.StrictBucket),
		upload.WithLogger(log.Logger),
	)
	log.Info().Str("file", path).Str("bucket", bucket).Str("key", key).Msg("uploading")

	outcome, err := uploader.Upload(ctx, upload.Content{
		Body:        f,
		Size:        info.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(key)),
	}, key, bucket, wait)
	printOutcome(out, outcome)
	return err
}

func runRemote(ctx context.Context, flags Flags, path string, out io.Writer) error {
	c, err := client.New(flags.Remote)
	if err != nil {
		return err
	}

	form := client.UploadForm{}
	if flags.Key != "" {
		ext := filepath.Ext(flags.Key)
		form.Name = strings.TrimSuffix(flags.Key, ext)
		form.Ext = strings.TrimPrefix(ext, ".")
		// the server only honours name and ext together
		if form.Name == "" || form.Ext == "" {
			return fmt.Errorf("--key %q must be name.ext when used with --remote", flags.Key)
		}
	}
	resp, err := c.Upload(ctx, path, form)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s%s%s %s\n", colorGreen, resp.Message, colorReset, resp.Key)
	if resp.URL != "" {
		fmt.Fprintln(out, resp.URL)
	}
	return nil
}

func printOutcome(out io.Writer, o upload.Outcome) {
	color := colorGreen
	switch o.Status {
	case upload.StatusUnconfirmed:
		color = colorYellow
	case upload.StatusFailed:
		color = colorRed
	}

	fmt.Fprintf(out, "%s%s%s %s/%s (%s)\n", color, o.Status, colorReset, o.Bucket, o.Key, o.Elapsed.Round(time.Millisecond))
	if o.Metadata != nil {
		fmt.Fprintf(out, "  etag: %s  size: %d\n", o.Metadata.ETag, o.Metadata.Size)
	}
	if o.Baseline != nil {
		fmt.Fprintf(out, "  previous etag: %s\n", o.Baseline.ETag)
	}
	for _, d := range o.Degraded {
		fmt.Fprintf(out, "  %swarning:%s %v\n", colorYellow, colorReset, d)
	}
	if o.Err != nil {
		fmt.Fprintf(out, "  %serror:%s %v\n", colorRed, colorReset, o.Err)
	}
}
