package mos

import (
	"bytes"
	"errors"
	"testing"

	"github.com/bigbag/agon-flasher/internal/checksum"
	"github.com/bigbag/agon-flasher/internal/flash"
)

func imageCRC(data []byte) uint32 {
	e := checksum.NewEngine()
	e.Update(data)
	return e.Sum32()
}

func patternImage(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*31 + 7)
	}
	return data
}

func TestPageSpan(t *testing.T) {
	tests := []struct {
		size      int64
		pages     int
		lastBytes int64
	}{
		{1, 1, 1},
		{1023, 1, 1023},
		{1024, 1, 1024},
		{1025, 2, 1},
		{2048, 2, 1024},
		{flash.Size, flash.PageCount, 1024},
		{flash.Size - 1, flash.PageCount, 1023},
	}

	for _, tc := range tests {
		pages, lastBytes := PageSpan(tc.size)
		if pages != tc.pages || lastBytes != tc.lastBytes {
			t.Errorf("PageSpan(%d) = (%d, %d), want (%d, %d)",
				tc.size, pages, lastBytes, tc.pages, tc.lastBytes)
		}
		// Total bytes written must equal the image length.
		if got := int64(pages-1)*flash.PageSize + lastBytes; got != tc.size {
			t.Errorf("PageSpan(%d): written bytes = %d, want %d", tc.size, got, tc.size)
		}
	}
}

func TestProgram_RoundTrip(t *testing.T) {
	sizes := []int{1, 2048, flash.Size}

	for _, size := range sizes {
		image := patternImage(size)
		want := imageCRC(image)

		sim := flash.NewSim()
		p := New(sim)
		if err := p.Program(bytes.NewReader(image), int64(size), want); err != nil {
			t.Errorf("size %d: Program() error: %v", size, err)
			continue
		}

		// Flash contents reproduce the image CRC.
		if got := imageCRC(sim.Contents()[:size]); got != want {
			t.Errorf("size %d: flash CRC = 0x%08X, want 0x%08X", size, got, want)
		}
		// Pages beyond the image keep the erased blank state.
		for i := size; i < flash.Size; i++ {
			if sim.Contents()[i] != 0xFF {
				t.Errorf("size %d: byte %d beyond image = 0x%02X, want 0xFF", size, i, sim.Contents()[i])
				break
			}
		}
		// The device is re-protected before the run ends.
		if !sim.Protected(0) {
			t.Errorf("size %d: flash left unprotected", size)
		}
		// Interrupt suspension is balanced.
		if sim.SuspendDepth != 0 || sim.MaxSuspend != 1 {
			t.Errorf("size %d: suspend depth=%d max=%d, want 0/1", size, sim.SuspendDepth, sim.MaxSuspend)
		}
		// Every protected-register write was preceded by an unlock.
		if sim.IgnoredWrites != 0 {
			t.Errorf("size %d: %d protected writes without unlock", size, sim.IgnoredWrites)
		}
	}
}

func TestProgram_ProgressCoversAllPages(t *testing.T) {
	image := patternImage(3*1024 + 100)
	sim := flash.NewSim()
	p := New(sim)

	var pages []int
	var total int
	p.SetProgressCallback(func(page, totalPages int) {
		pages = append(pages, page)
		total = totalPages
	})

	if err := p.Program(bytes.NewReader(image), int64(len(image)), imageCRC(image)); err != nil {
		t.Fatalf("Program() error: %v", err)
	}
	if total != 4 {
		t.Errorf("total pages = %d, want 4", total)
	}
	for i, page := range pages {
		if page != i+1 {
			t.Fatalf("progress sequence %v, want 1..4 ascending", pages)
		}
	}
}

func TestProgram_StagingCorrupt(t *testing.T) {
	image := patternImage(4096)
	sim := flash.NewSim()
	p := New(sim)

	err := p.Program(bytes.NewReader(image), int64(len(image)), imageCRC(image)^0xDEADBEEF)

	var stagingErr *StagingError
	if !errors.As(err, &stagingErr) {
		t.Fatalf("Program() error = %v, want *StagingError", err)
	}
	// No destructive action was taken.
	for page, n := range sim.Erases {
		if n != 0 {
			t.Fatalf("page %d erased %d times despite staging failure", page, n)
		}
	}
	if sim.MaxSuspend != 0 {
		t.Error("interrupts suspended despite staging failure")
	}
}

func TestProgram_ShortRead(t *testing.T) {
	image := patternImage(4096)
	sim := flash.NewSim()
	p := New(sim)

	// Reader runs dry before the declared size.
	err := p.Program(bytes.NewReader(image[:1000]), int64(len(image)), imageCRC(image))
	if err == nil {
		t.Fatal("Program() with short reader = nil error, want failure")
	}
	var stagingErr *StagingError
	if errors.As(err, &stagingErr) {
		t.Fatalf("short read reported as staging corruption: %v", err)
	}
}

func TestProgram_SizeBounds(t *testing.T) {
	sim := flash.NewSim()
	p := New(sim)
	for _, size := range []int64{0, -5, flash.Size + 1} {
		if err := p.Program(bytes.NewReader(nil), size, 0); err == nil {
			t.Errorf("Program(size=%d) = nil error, want size error", size)
		}
	}
}

// flaky wraps a Sim and corrupts verification reads for a fixed number
// of attempts, simulating marginal flash cells that program wrong.
type flaky struct {
	*flash.Sim
	failAttempts int
	attempt      int
}

func (f *flaky) ErasePage(index int) {
	if index == 0 {
		f.attempt++
	}
	f.Sim.ErasePage(index)
}

func (f *flaky) ReadBlock(addr uint32, p []byte) {
	f.Sim.ReadBlock(addr, p)
	if f.attempt <= f.failAttempts && addr == 0 && len(p) > 0 {
		p[0] ^= 0xFF
	}
}

func TestProgram_RetrySucceedsOnThird(t *testing.T) {
	image := patternImage(4096)
	f := &flaky{Sim: flash.NewSim(), failAttempts: 2}
	p := New(f)

	var retries []int
	p.SetRetryCallback(func(attempt int) {
		retries = append(retries, attempt)
	})

	if err := p.Program(bytes.NewReader(image), int64(len(image)), imageCRC(image)); err != nil {
		t.Fatalf("Program() error: %v, want success on third attempt", err)
	}
	if f.attempt != 3 {
		t.Errorf("erase cycles = %d, want 3", f.attempt)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("retry notifications = %v, want [1 2]", retries)
	}
	if f.SuspendDepth != 0 {
		t.Errorf("suspend depth after success = %d, want 0", f.SuspendDepth)
	}
}

func TestProgram_FatalAfterThreeAttempts(t *testing.T) {
	image := patternImage(4096)
	f := &flaky{Sim: flash.NewSim(), failAttempts: MaxAttempts + 1}
	p := New(f)

	err := p.Program(bytes.NewReader(image), int64(len(image)), imageCRC(image))

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Program() error = %v, want *FatalError", err)
	}
	if fatal.Attempts != MaxAttempts {
		t.Errorf("FatalError.Attempts = %d, want %d", fatal.Attempts, MaxAttempts)
	}
	if fatal.Last == nil || fatal.Last.Attempt != MaxAttempts-1 {
		t.Errorf("FatalError.Last = %+v, want final attempt index %d", fatal.Last, MaxAttempts-1)
	}
	// Exactly 3 cycles, never 4.
	if f.attempt != MaxAttempts {
		t.Errorf("erase cycles = %d, want exactly %d", f.attempt, MaxAttempts)
	}
	// Even on the fatal path the device is re-locked and interrupt
	// suspension released.
	if !f.Protected(0) {
		t.Error("flash left unprotected on fatal path")
	}
	if f.SuspendDepth != 0 {
		t.Errorf("suspend depth after fatal = %d, want 0", f.SuspendDepth)
	}

	var verr *VerifyError
	if !errors.As(err, &verr) {
		t.Error("FatalError should unwrap to the last *VerifyError")
	}
}

func TestProgram_ChunkedReader(t *testing.T) {
	// A reader that returns data in awkward chunk sizes must stage the
	// same bytes as one big read.
	image := patternImage(5000)
	sim := flash.NewSim()
	p := New(sim)

	r := &drippingReader{data: image, chunk: 37}
	if err := p.Program(r, int64(len(image)), imageCRC(image)); err != nil {
		t.Fatalf("Program() with dripping reader error: %v", err)
	}
	if got := imageCRC(sim.Contents()[:len(image)]); got != imageCRC(image) {
		t.Errorf("flash CRC = 0x%08X, want 0x%08X", got, imageCRC(image))
	}
}

type drippingReader struct {
	data  []byte
	chunk int
	off   int
}

func (r *drippingReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, nil
	}
	n := r.chunk
	if n > len(p) {
		n = len(p)
	}
	if r.off+n > len(r.data) {
		n = len(r.data) - r.off
	}
	copy(p, r.data[r.off:r.off+n])
	r.off += n
	return n, nil
}
