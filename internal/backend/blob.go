package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file://
	_ "gocloud.dev/blob/gcsblob"  // gs://
	_ "gocloud.dev/blob/memblob"  // mem://
	_ "gocloud.dev/blob/s3blob"   // s3://
	"gocloud.dev/gcerrors"
)

// BlobTransport — транспорт к бакету gocloud.dev/blob.
type BlobTransport struct {
	id     string
	url    string
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	bucket *blob.Bucket
}

// NewBlobTransport создаёт транспорт, открывающий бакет по URL в Start.
func NewBlobTransport(id, bucketURL string, opts Options) *BlobTransport {
	opts = opts.withDefaults()
	return &BlobTransport{
		id:     id,
		url:    bucketURL,
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "blob_backend"), slog.String("client", id)),
	}
}

// NewBlobTransportFromBucket создаёт транспорт поверх уже открытого бакета.
func NewBlobTransportFromBucket(id string, bucket *blob.Bucket, opts Options) *BlobTransport {
	t := NewBlobTransport(id, "", opts)
	t.bucket = bucket
	return t
}

// Start открывает бакет (если он ещё не открыт) и проверяет его доступность.
func (t *BlobTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bucket == nil {
		bucket, err := blob.OpenBucket(ctx, t.url)
		if err != nil {
			return fmt.Errorf("открытие бакета %s: %w", t.url, err)
		}
		t.bucket = bucket
	}

	ok, err := t.bucket.IsAccessible(ctx)
	if err != nil {
		return fmt.Errorf("проверка доступности бакета: %w", err)
	}
	if !ok {
		return fmt.Errorf("бакет %s недоступен", t.url)
	}

	t.logger.Debug("Бакет открыт")
	return nil
}

// ID возвращает идентичность клиента.
func (t *BlobTransport) ID() string { return t.id }

// Stat возвращает размер и MIME-тип объекта.
func (t *BlobTransport) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	bucket, err := t.current()
	if err != nil {
		return nil, err
	}

	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return nil, t.classify(err, key)
	}
	return &ObjectInfo{Size: attrs.Size, ContentType: attrs.ContentType}, nil
}

// FetchRange читает диапазон объекта через NewRangeReader.
func (t *BlobTransport) FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	bucket, err := t.current()
	if err != nil {
		return nil, err
	}

	r, err := bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, t.classify(err, key)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, t.classify(err, key)
	}
	return data, nil
}

// Stop закрывает бакет. Повторный вызов — no-op.
func (t *BlobTransport) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bucket == nil {
		return nil
	}
	err := t.bucket.Close()
	t.bucket = nil
	if err != nil {
		return fmt.Errorf("закрытие бакета: %w", err)
	}
	return nil
}

func (t *BlobTransport) current() (*blob.Bucket, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.bucket == nil {
		return nil, errors.New("клиент backend не запущен")
	}
	return t.bucket, nil
}

// classify переводит ошибки gocloud в ошибки пакета.
func (t *BlobTransport) classify(err error, key string) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	case gcerrors.ResourceExhausted:
		return &TransientError{Wait: t.opts.DefaultWait, Err: err}
	default:
		return fmt.Errorf("чтение %s из бакета: %w", key, err)
	}
}
