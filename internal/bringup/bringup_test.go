package bringup

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewdorris/xv6-d00m/internal/faulterr"
	"github.com/drewdorris/xv6-d00m/internal/logging"
	"github.com/drewdorris/xv6-d00m/internal/pagealloc"
	"github.com/drewdorris/xv6-d00m/internal/regwin"
)

// fakeWindow is a minimal register window fake, local to this package to
// avoid importing the root gpu package (which imports bringup).
type fakeWindow struct {
	mu       sync.Mutex
	deviceID uint32
	absent   bool
	status   uint32
	numMax   uint32
	ready    uint32
}

func newFakeWindow(deviceID uint32) *fakeWindow {
	return &fakeWindow{deviceID: deviceID, numMax: 64}
}

func (w *fakeWindow) Load(offset uint32) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.absent {
		return 0
	}
	switch offset {
	case regwin.RegMagic:
		return regwin.Magic
	case regwin.RegVersion:
		return 2
	case regwin.RegDeviceID:
		return w.deviceID
	case regwin.RegStatus:
		return w.status
	case regwin.RegQueueNumMax:
		return w.numMax
	case regwin.RegQueueReady:
		return w.ready
	default:
		return 0
	}
}

func (w *fakeWindow) Store(offset uint32, val uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch offset {
	case regwin.RegStatus:
		w.status = val
	case regwin.RegQueueReady:
		w.ready = val
	}
}

// fakeAllocator allocates plain Go memory, not real mmap pages — fine for
// in-process tests where nothing crosses a real address space boundary.
type fakeAllocator struct{}

func (fakeAllocator) Pages(n int) (uintptr, []byte, error) {
	mem := make([]byte, n*pagealloc.PageSize)
	return uintptr(unsafe.Pointer(&mem[0])), mem, nil
}
func (fakeAllocator) Free([]byte) error { return nil }

func silentLogger() *logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LevelError
	return logging.NewLogger(cfg)
}

func recordFatal(t *testing.T) *error {
	var captured error
	orig := faulterr.OnFatal
	faulterr.OnFatal = func(err error) { captured = err }
	t.Cleanup(func() { faulterr.OnFatal = orig })
	return &captured
}

func TestClassifyWindowAbsent(t *testing.T) {
	w := newFakeWindow(16)
	w.absent = true
	assert.Equal(t, ClassAbsent, classifyWindow(w))
}

func TestClassifyWindowGPU(t *testing.T) {
	assert.Equal(t, ClassGPU, classifyWindow(newFakeWindow(16)))
}

func TestClassifyWindowBlock(t *testing.T) {
	assert.Equal(t, ClassBlock, classifyWindow(newFakeWindow(2)))
}

func TestClassifyWindowOther(t *testing.T) {
	assert.Equal(t, ClassOther, classifyWindow(newFakeWindow(99)))
}

func TestProbeSelectsUsedWindowWhenGPU(t *testing.T) {
	probe := newFakeWindow(0)
	probe.absent = true
	used := newFakeWindow(16)

	win, err := Probe(probe, used, silentLogger())
	require.NoError(t, err)
	assert.Same(t, used, win)
}

func TestProbeFailsWhenNeitherIsGPU(t *testing.T) {
	probe := newFakeWindow(0)
	probe.absent = true
	used := newFakeWindow(2)

	_, err := Probe(probe, used, silentLogger())
	require.Error(t, err)
	assert.True(t, faulterr.IsCode(err, faulterr.ErrCodeConfigMismatch))
}

func TestRunHappyPath(t *testing.T) {
	used := newFakeWindow(16)
	res, err := Run(newFakeWindow(0), used, 8, fakeAllocator{}, silentLogger())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.EqualValues(t, regwin.StatusAcknowledge|regwin.StatusDriver|regwin.StatusFeaturesOK|regwin.StatusDriverOK, used.status)
	assert.EqualValues(t, 1, used.ready)
	assert.NotNil(t, res.Queue)
	assert.NotNil(t, res.Response)
}

func TestRunFatalOnMagicMismatch(t *testing.T) {
	captured := recordFatal(t)
	probe := newFakeWindow(0)
	probe.absent = true
	used := newFakeWindow(0)
	used.absent = true

	_, err := Run(probe, used, 8, fakeAllocator{}, silentLogger())
	require.Error(t, err)
	assert.NotNil(t, *captured)
	assert.EqualValues(t, 0, used.status)
}

func TestRunFatalOnQueueTooSmall(t *testing.T) {
	captured := recordFatal(t)
	used := newFakeWindow(16)
	used.numMax = 4

	_, err := Run(newFakeWindow(0), used, 8, fakeAllocator{}, silentLogger())
	require.Error(t, err)
	assert.NotNil(t, *captured)
	assert.EqualValues(t, 0, used.ready)
}

func TestRunFatalOnBlockDeviceAtGPUWindow(t *testing.T) {
	captured := recordFatal(t)
	used := newFakeWindow(2)

	_, err := Run(newFakeWindow(0), used, 8, fakeAllocator{}, silentLogger())
	require.Error(t, err)
	assert.NotNil(t, *captured)
}
