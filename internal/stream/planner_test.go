package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func testContent(n int64) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

// sliceFetcher — FetchFunc поверх среза с учётом вызовов.
func sliceFetcher(data []byte, calls *[]int64) FetchFunc {
	return func(_ context.Context, offset, length int64) ([]byte, error) {
		if calls != nil {
			*calls = append(*calls, offset)
		}
		end := min(offset+length, int64(len(data)))
		if offset >= end {
			return nil, nil
		}
		return bytes.Clone(data[offset:end]), nil
	}
}

func TestParseRange(t *testing.T) {
	const size = 1000
	tests := []struct {
		header      string
		wantFrom    int64
		wantUntil   int64
		wantPartial bool
		wantErr     bool
	}{
		{"", 0, 999, false, false},
		{"bytes=0-", 0, 999, true, false},
		{"bytes=100-199", 100, 199, true, false},
		{"bytes=999-999", 999, 999, true, false},
		{" bytes=5- ", 5, 999, true, false},
		{"bytes=0-1000", 0, 0, true, true},
		{"bytes=500-100", 0, 0, true, true},
		{"bytes=1000-", 0, 0, true, true},
		{"bytes=-500", 0, 0, true, true},
		{"bytes=0-1,5-6", 0, 0, true, true},
		{"items=0-10", 0, 0, true, true},
		{"bytes=abc-10", 0, 0, true, true},
		{"bytes=10", 0, 0, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			from, until, partial, err := ParseRange(tt.header, size)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRange) {
					t.Errorf("ParseRange(%q) err = %v, ожидался ErrInvalidRange", tt.header, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange(%q): %v", tt.header, err)
			}
			if from != tt.wantFrom || until != tt.wantUntil || partial != tt.wantPartial {
				t.Errorf("ParseRange(%q) = %d, %d, %v; ожидалось %d, %d, %v",
					tt.header, from, until, partial, tt.wantFrom, tt.wantUntil, tt.wantPartial)
			}
		})
	}
}

// TestNewPlan_FullTenMiB — файл 10 MiB, Range bytes=0-.
func TestNewPlan_FullTenMiB(t *testing.T) {
	const size = 10 << 20
	from, until, partial, err := ParseRange("bytes=0-", size)
	if err != nil || !partial {
		t.Fatalf("ParseRange: %v partial=%v", err, partial)
	}

	p, err := NewPlan(size, from, until, DefaultChunkSize)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if p.Offset != 0 || p.FirstPartCut != 0 || p.LastPartCut != DefaultChunkSize || p.PartCount != 5 {
		t.Errorf("план = %+v", p)
	}
	if p.Length() != size {
		t.Errorf("Length = %d, ожидалось %d", p.Length(), size)
	}
}

// TestNewPlan_InsideSecondChunk — файл 5 MiB, Range bytes=3000000-4000000.
// Диапазон целиком лежит во втором чанке, поэтому достаточно одной загрузки.
func TestNewPlan_InsideSecondChunk(t *testing.T) {
	const size = 5 << 20
	data := testContent(size)

	p, err := NewPlan(size, 3_000_000, 4_000_000, DefaultChunkSize)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if p.Offset != 2_097_152 {
		t.Errorf("Offset = %d, ожидалось 2097152", p.Offset)
	}
	if p.PartCount != 1 {
		t.Errorf("PartCount = %d, ожидался 1", p.PartCount)
	}

	var calls []int64
	var buf bytes.Buffer
	n, err := p.WriteTo(context.Background(), &buf, sliceFetcher(data, &calls))
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != 1_000_001 || !bytes.Equal(buf.Bytes(), data[3_000_000:4_000_001]) {
		t.Errorf("записано %d байт, ожидалось 1000001 байт исходного среза", n)
	}
	if len(calls) != 1 || calls[0] != 2_097_152 {
		t.Errorf("загрузки = %v", calls)
	}
}

// TestNewPlan_OutOfBounds — файл 5 MiB, Range bytes=0-999999999.
func TestNewPlan_OutOfBounds(t *testing.T) {
	if _, _, _, err := ParseRange("bytes=0-999999999", 5<<20); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("ParseRange err = %v, ожидался ErrInvalidRange", err)
	}
	if _, err := NewPlan(5<<20, 0, 999_999_999, DefaultChunkSize); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("NewPlan err = %v, ожидался ErrInvalidRange", err)
	}
}

// TestNewPlan_UntilOnChunkBoundary проверяет диапазон, конец которого
// совпадает с началом чанка: нужен ещё один чанк ради одного байта.
func TestNewPlan_UntilOnChunkBoundary(t *testing.T) {
	p, err := NewPlan(100, 0, 16, 16)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if p.PartCount != 2 || p.LastPartCut != 1 {
		t.Errorf("PartCount=%d LastPartCut=%d, ожидалось 2 и 1", p.PartCount, p.LastPartCut)
	}
}

// TestPlan_ByteExact проверяет побайтовое совпадение результата с исходным
// срезом для всех диапазонов небольших файлов и разных размеров чанка.
func TestPlan_ByteExact(t *testing.T) {
	for _, chunk := range []int64{1, 3, 7, 16} {
		for _, size := range []int64{1, 2, 15, 16, 17, 33, 48} {
			data := testContent(size)
			fetch := sliceFetcher(data, nil)

			for from := range size {
				for until := from; until < size; until++ {
					p, err := NewPlan(size, from, until, chunk)
					if err != nil {
						t.Fatalf("NewPlan(%d, %d, %d, %d): %v", size, from, until, chunk, err)
					}
					var buf bytes.Buffer
					if _, err := p.WriteTo(context.Background(), &buf, fetch); err != nil {
						t.Fatalf("WriteTo(%d, %d, %d, %d): %v", size, from, until, chunk, err)
					}
					if int64(buf.Len()) != until-from+1 || !bytes.Equal(buf.Bytes(), data[from:until+1]) {
						t.Fatalf("size=%d chunk=%d [%d,%d]: получено %d байт, не совпадает с исходным срезом",
							size, chunk, from, until, buf.Len())
					}
				}
			}
		}
	}
}

func TestPlan_ChunkOffsetsAreAligned(t *testing.T) {
	data := testContent(100)
	p, _ := NewPlan(100, 21, 70, 16)

	var calls []int64
	if _, err := p.WriteTo(context.Background(), io.Discard, sliceFetcher(data, &calls)); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	want := []int64{16, 32, 48, 64}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Errorf("смещения = %v, ожидалось %v", calls, want)
	}
}

func TestPlan_ShortChunk(t *testing.T) {
	data := testContent(64)
	p, _ := NewPlan(64, 0, 63, 16)

	truncated := func(ctx context.Context, offset, length int64) ([]byte, error) {
		if offset == 32 {
			return data[32:40], nil
		}
		return sliceFetcher(data, nil)(ctx, offset, length)
	}
	_, err := p.WriteTo(context.Background(), io.Discard, truncated)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, ожидался io.ErrUnexpectedEOF", err)
	}
}

func TestPlan_StopsOnCancel(t *testing.T) {
	data := testContent(64)
	p, _ := NewPlan(64, 0, 63, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls []int64
	fetch := sliceFetcher(data, &calls)
	var got int
	for chunk, err := range p.Chunks(ctx, fetch) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.Errorf("err = %v, ожидался context.Canceled", err)
			}
			break
		}
		got += len(chunk)
		cancel() // клиент отключился после первого чанка
	}
	if len(calls) != 1 || got != 16 {
		t.Errorf("загрузок %d, байт %d; ожидалась одна загрузка 16 байт", len(calls), got)
	}
}

func TestPlan_StopsOnBreak(t *testing.T) {
	p, _ := NewPlan(64, 0, 63, 16)
	var calls []int64
	for range p.Chunks(context.Background(), sliceFetcher(testContent(64), &calls)) {
		break
	}
	if len(calls) != 1 {
		t.Errorf("загрузок %d после break, ожидалась 1", len(calls))
	}
}

func TestPlan_FetchError(t *testing.T) {
	p, _ := NewPlan(64, 0, 63, 16)
	boom := errors.New("boom")
	_, err := p.WriteTo(context.Background(), io.Discard, func(context.Context, int64, int64) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, ожидалась исходная ошибка", err)
	}
}

func TestNewPlan_InvalidChunkSize(t *testing.T) {
	if _, err := NewPlan(10, 0, 9, 0); err == nil {
		t.Error("NewPlan с нулевым чанком не вернул ошибку")
	}
}
