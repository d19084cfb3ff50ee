// Пакет stream — выдача байтов файла диапазонами.
//
// Запрошенный диапазон [from, until] (включительно) разбивается на
// последовательность загрузок фиксированного размера C, выровненных по границе
// чанка. Первый чанк обрезается слева на FirstPartCut байт, последний
// сохраняет только первые LastPartCut байт. Чанки загружаются по одному,
// весь диапазон в памяти не держится.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
)

// DefaultChunkSize — размер чанка загрузки из backend (2 MiB).
const DefaultChunkSize int64 = 2 << 20

// ErrInvalidRange — диапазон некорректен или выходит за пределы файла.
var ErrInvalidRange = errors.New("диапазон не может быть удовлетворён")

// ParseRange разбирает заголовок Range вида "bytes=<start>-[<end>]".
// Пустой заголовок означает файл целиком (partial=false).
// Поддерживается только один диапазон; суффиксная форма "bytes=-N"
// и несколько диапазонов через запятую считаются некорректными.
func ParseRange(header string, size int64) (from, until int64, partial bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, size - 1, false, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, 0, true, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok || startStr == "" {
		return 0, 0, true, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}

	from, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, true, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	until = size - 1
	if endStr != "" {
		until, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return 0, 0, true, fmt.Errorf("%w: %q", ErrInvalidRange, header)
		}
	}

	if err := validate(size, from, until); err != nil {
		return 0, 0, true, err
	}
	return from, until, true, nil
}

func validate(size, from, until int64) error {
	if from < 0 || until >= size || until < from {
		return fmt.Errorf("%w: %d-%d при размере %d", ErrInvalidRange, from, until, size)
	}
	return nil
}

// FetchFunc загружает length байт начиная с offset.
// У последнего чанка файла результат может быть короче length.
type FetchFunc func(ctx context.Context, offset, length int64) ([]byte, error)

// Plan — план загрузки диапазона чанками.
type Plan struct {
	Size      int64
	From      int64
	Until     int64
	ChunkSize int64

	// Offset — начало первого чанка (from, округлённый вниз до границы чанка)
	Offset int64
	// FirstPartCut — сколько байт отбросить в начале первого чанка
	FirstPartCut int64
	// LastPartCut — сколько байт оставить в начале последнего чанка
	LastPartCut int64
	// PartCount — количество загружаемых чанков
	PartCount int64
}

// NewPlan строит план для диапазона [from, until] файла размером size.
func NewPlan(size, from, until, chunkSize int64) (*Plan, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("некорректный размер чанка: %d", chunkSize)
	}
	if err := validate(size, from, until); err != nil {
		return nil, err
	}

	offset := from - from%chunkSize
	return &Plan{
		Size:         size,
		From:         from,
		Until:        until,
		ChunkSize:    chunkSize,
		Offset:       offset,
		FirstPartCut: from - offset,
		LastPartCut:  until%chunkSize + 1,
		// Номер чанка, содержащего until, минус номер первого чанка.
		PartCount: until/chunkSize - offset/chunkSize + 1,
	}, nil
}

// Length возвращает длину ответа: until − from + 1.
func (p *Plan) Length() int64 {
	return p.Until - p.From + 1
}

// Chunks возвращает ленивую последовательность обрезанных чанков.
// Каждый шаг загружает ровно один чанк. Итерация прекращается на первой
// ошибке или при отмене ctx.
func (p *Plan) Chunks(ctx context.Context, fetch FetchFunc) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		last := p.PartCount - 1
		for i := range p.PartCount {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			chunkOffset := p.Offset + i*p.ChunkSize
			data, err := fetch(ctx, chunkOffset, p.ChunkSize)
			if err != nil {
				yield(nil, fmt.Errorf("чанк %d/%d (offset %d): %w", i+1, p.PartCount, chunkOffset, err))
				return
			}

			// Backend обязан вернуть весь чанк, кроме хвоста файла.
			want := min(p.ChunkSize, p.Size-chunkOffset)
			if int64(len(data)) < want {
				yield(nil, fmt.Errorf("чанк %d/%d (offset %d): получено %d из %d байт: %w",
					i+1, p.PartCount, chunkOffset, len(data), want, io.ErrUnexpectedEOF))
				return
			}

			// Сначала обрезка справа: LastPartCut отсчитывается от начала чанка.
			if i == last {
				data = data[:min(p.LastPartCut, int64(len(data)))]
			} else if int64(len(data)) > p.ChunkSize {
				data = data[:p.ChunkSize]
			}
			if i == 0 {
				data = data[p.FirstPartCut:]
			}

			if !yield(data, nil) {
				return
			}
		}
	}
}

// WriteTo записывает диапазон в w чанк за чанком.
// Возвращает количество записанных байт.
func (p *Plan) WriteTo(ctx context.Context, w io.Writer, fetch FetchFunc) (int64, error) {
	var written int64
	for chunk, err := range p.Chunks(ctx, fetch) {
		if err != nil {
			return written, err
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("запись ответа: %w", err)
		}
	}
	return written, nil
}
