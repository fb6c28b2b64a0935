package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"

	"streamrelay/internal/history"
	logx "streamrelay/pkg/logx"
)

const defaultGCSObject = "streamrelay/history.json"

// gcsBackend stores the snapshot as one object. Credentials come from the
// environment (Application Default Credentials).
type gcsBackend struct {
	client *gcs.Client
	bucket string
	object string
	log    logx.Logger
	delay  time.Duration

	newReader func(ctx context.Context) (io.ReadCloser, error)
	// newWriter must abandon the upload when ctx is cancelled before Close.
	newWriter func(ctx context.Context) io.WriteCloser
}

func openGCS(ctx context.Context, cfg Config, log logx.Logger) (history.Backend, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("storage.bucket is required for gcs driver")
	}
	object := strings.TrimSpace(cfg.Object)
	if object == "" {
		object = defaultGCSObject
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	b := &gcsBackend{client: client, bucket: bucket, object: object, log: log, delay: time.Second}
	obj := client.Bucket(bucket).Object(object)
	b.newReader = func(ctx context.Context) (io.ReadCloser, error) { return obj.NewReader(ctx) }
	b.newWriter = func(ctx context.Context) io.WriteCloser {
		w := obj.NewWriter(ctx)
		w.ContentType = "application/json"
		return w
	}
	return b, nil
}

func (b *gcsBackend) retryOpts(ctx context.Context, op string) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(b.delay),
		retry.MaxDelay(30 * time.Second),
		retry.MaxJitter(2 * b.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.log.Info("retrying gcs "+op, logx.Int("attempt", int(n)), logx.String("object", b.object), logx.Err(err))
		}),
	}
}

func (b *gcsBackend) Load(ctx context.Context) ([]history.Entry, error) {
	var (
		data    []byte
		missing bool
	)
	err := retry.Do(func() error {
		r, err := b.newReader(ctx)
		if err != nil {
			if errors.Is(err, gcs.ErrObjectNotExist) {
				missing = true
				return retry.Unrecoverable(err)
			}
			return fmt.Errorf("open reader: %w", err)
		}
		defer r.Close()
		data, err = io.ReadAll(r)
		return err
	}, b.retryOpts(ctx, "load")...)
	if missing {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history object: %w", err)
	}
	return decodeSnapshot(data)
}

func (b *gcsBackend) Save(ctx context.Context, entries []history.Entry) error {
	data, err := encodeSnapshot(entries, time.Now())
	if err != nil {
		return err
	}
	err = retry.Do(func() error {
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()
		w := b.newWriter(wctx)
		if _, err := w.Write(data); err != nil {
			// cancelling first makes Close discard the partial upload
			cancel()
			_ = w.Close()
			return fmt.Errorf("write: %w", err)
		}
		return w.Close()
	}, b.retryOpts(ctx, "save")...)
	if err != nil {
		return fmt.Errorf("save history object: %w", err)
	}
	return nil
}

func (b *gcsBackend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
