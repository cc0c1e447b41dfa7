package upload

import (
	"bytes"
	"compress/gzip"
	"io"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v5deploy/internal/devicetest"
	"v5deploy/internal/patch"
	"v5deploy/internal/radio"
	"v5deploy/internal/transfer"
)

func testEngine() *Engine {
	tc := transfer.NewClient(transfer.Config{
		InitTimeout: 10 * time.Millisecond, InitAttempts: 3,
		WriteTimeout: 10 * time.Millisecond, WriteAttempts: 3,
		LinkTimeout: 10 * time.Millisecond, LinkAttempts: 3,
		ExitTimeout: 10 * time.Millisecond, ExitAttempts: 3,
		StatusTimeout: 10 * time.Millisecond, StatusAttempts: 3,
	}, nil)
	rc := radio.NewController(radio.Config{
		StatusTimeout: 10 * time.Millisecond, StatusAttempts: 3,
		SwitchTimeout: 10 * time.Millisecond, SwitchAttempts: 3,
		ProbeTimeout: time.Millisecond, ProbeInterval: time.Millisecond,
		DisconnectTimeout: 50 * time.Millisecond, ReconnectTimeout: 50 * time.Millisecond,
	}, nil)
	return NewEngine(tc, rc, nil)
}

func testImage(seed int64, size int) []byte {
	r := rand.New(rand.NewSource(seed))
	out := make([]byte, size)
	r.Read(out)
	return out
}

func editedImage(img []byte) []byte {
	out := append([]byte{}, img...)
	for i := 200; i < 200+128 && i < len(out); i++ {
		out[i] ^= 0x5A
	}
	return out
}

func diffOptions(cachePath string) Options {
	return Options{
		Slot:      1,
		Name:      "my-program",
		Icon:      IconQuestionMark,
		Strategy:  Differential,
		After:     transfer.ActionNone,
		CachePath: cachePath,
	}
}

func TestUploadRejectsBadSlot(t *testing.T) {
	e := testEngine()
	dev := devicetest.New()

	for _, slot := range []int{0, 9, -1} {
		err := e.Upload(dev, testImage(1, 64), Options{Slot: slot, Strategy: Monolith})
		var sre *SlotRangeError
		require.ErrorAs(t, err, &sre, "slot %d", slot)
		assert.Equal(t, slot, sre.Slot)
		assert.Contains(t, sre.Hint(), "1 to 8")
	}
}

func TestUploadMonolithUncompressed(t *testing.T) {
	e := testEngine()
	dev := devicetest.New()
	image := testImage(2, 4096)

	err := e.Upload(dev, image, Options{
		Slot: 2, Name: "mono", Icon: IconRobot, Strategy: Monolith,
	})
	require.NoError(t, err)

	file := dev.UserFile("slot_2.bin")
	require.NotNil(t, file)
	assert.Equal(t, image, file.Data)
	assert.Equal(t, AddrProgram, file.LoadAddress)
	assert.NotNil(t, dev.UserFile("slot_2.ini"))
}

func TestUploadMonolithCompressed(t *testing.T) {
	e := testEngine()
	dev := devicetest.New()
	image := testImage(3, 4096)

	err := e.Upload(dev, image, Options{
		Slot: 2, Name: "mono", Icon: IconRobot, Strategy: Monolith, Compress: true,
	})
	require.NoError(t, err)

	file := dev.UserFile("slot_2.bin")
	require.NotNil(t, file)

	r, err := gzip.NewReader(bytes.NewReader(file.Data))
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, image, got)
}

func TestUploadColdThenPatch(t *testing.T) {
	e := testEngine()
	dev := devicetest.New()
	cachePath := filepath.Join(t.TempDir(), "program.bin.base")
	imageA := testImage(4, 4096)

	// First upload has no cache and no device base, so it goes cold.
	require.NoError(t, e.Upload(dev, imageA, diffOptions(cachePath)))

	base := dev.UserFile("slot_1.base.bin")
	require.NotNil(t, base)
	assert.Equal(t, imageA, base.Data)
	assert.Equal(t, AddrProgram, base.LoadAddress)

	bin := dev.UserFile("slot_1.bin")
	require.NotNil(t, bin)
	assert.Equal(t, []byte{0xDF, 0xB2, 0x00, 0x00}, bin.Data)
	assert.Equal(t, "slot_1.base.bin", bin.Linked)
	assert.Equal(t, AddrPatch, bin.LoadAddress)

	cached, _, err := patch.ReadCache(cachePath)
	require.NoError(t, err)
	assert.Equal(t, imageA, cached)

	// Second upload of an edited build rides the cached base.
	imageB := editedImage(imageA)
	require.NoError(t, e.Upload(dev, imageB, diffOptions(cachePath)))

	bin = dev.UserFile("slot_1.bin")
	require.NotNil(t, bin)
	assert.Equal(t, "slot_1.base.bin", bin.Linked)

	header, err := patch.ReadHeader(bin.Data)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), header.Old)
	assert.Equal(t, uint32(4096), header.New)

	got, err := patch.Apply(imageA, bin.Data)
	require.NoError(t, err)
	assert.Equal(t, imageB, got)

	// The base on the device is untouched by a differential upload.
	assert.Equal(t, imageA, dev.UserFile("slot_1.base.bin").Data)
}

func TestUploadGoesColdWhenDeviceBaseDiffers(t *testing.T) {
	e := testEngine()
	dev := devicetest.New()
	cachePath := filepath.Join(t.TempDir(), "program.bin.base")
	imageA := testImage(5, 4096)

	require.NoError(t, e.Upload(dev, imageA, diffOptions(cachePath)))

	// Someone reflashed the base from another machine.
	require.NoError(t, patch.WriteCache(cachePath, editedImage(imageA)))

	var stages []string
	opts := diffOptions(cachePath)
	opts.Progress = func(stage string, fraction float64) {
		if len(stages) == 0 || stages[len(stages)-1] != stage {
			stages = append(stages, stage)
		}
	}
	imageB := editedImage(imageA)
	require.NoError(t, e.Upload(dev, imageB, opts))

	assert.Contains(t, stages, "base")
	assert.Equal(t, imageB, dev.UserFile("slot_1.base.bin").Data)
}

func TestUploadForceColdRefreshesBase(t *testing.T) {
	e := testEngine()
	dev := devicetest.New()
	cachePath := filepath.Join(t.TempDir(), "program.bin.base")
	imageA := testImage(6, 2048)

	require.NoError(t, e.Upload(dev, imageA, diffOptions(cachePath)))

	imageB := editedImage(imageA)
	opts := diffOptions(cachePath)
	opts.ForceCold = true
	require.NoError(t, e.Upload(dev, imageB, opts))

	assert.Equal(t, imageB, dev.UserFile("slot_1.base.bin").Data)
	assert.Equal(t, []byte{0xDF, 0xB2, 0x00, 0x00}, dev.UserFile("slot_1.bin").Data)

	cached, _, err := patch.ReadCache(cachePath)
	require.NoError(t, err)
	assert.Equal(t, imageB, cached)
}

func TestUploadSkipsUnchangedINI(t *testing.T) {
	e := testEngine()
	dev := devicetest.New()
	cachePath := filepath.Join(t.TempDir(), "program.bin.base")
	imageA := testImage(7, 1024)

	require.NoError(t, e.Upload(dev, imageA, diffOptions(cachePath)))

	var stages []string
	opts := diffOptions(cachePath)
	opts.Progress = func(stage string, fraction float64) {
		stages = append(stages, stage)
	}
	require.NoError(t, e.Upload(dev, editedImage(imageA), opts))

	assert.NotContains(t, stages, "metadata")
	assert.Contains(t, stages, "patch")
}

func TestUploadAfterRunRecordedOnFinalTransfer(t *testing.T) {
	e := testEngine()
	dev := devicetest.New()
	cachePath := filepath.Join(t.TempDir(), "program.bin.base")

	opts := diffOptions(cachePath)
	opts.After = transfer.ActionRun
	require.NoError(t, e.Upload(dev, testImage(8, 1024), opts))

	// Only the catalog entry carries the run action; base and ini do not.
	assert.Equal(t, byte(transfer.ActionRun), dev.UserFile("slot_1.bin").After)
	assert.Equal(t, byte(transfer.ActionNone), dev.UserFile("slot_1.base.bin").After)
	assert.Equal(t, byte(transfer.ActionNone), dev.UserFile("slot_1.ini").After)
}

func TestUploadOversizeDifferentialFails(t *testing.T) {
	e := testEngine()
	dev := devicetest.New()
	cachePath := filepath.Join(t.TempDir(), "program.bin.base")

	err := e.Upload(dev, make([]byte, patch.MaxImageSize+1), diffOptions(cachePath))
	var tle *patch.ProgramTooLargeError
	require.ErrorAs(t, err, &tle)
	assert.Contains(t, tle.Hint(), "monolith")
}

func TestErase(t *testing.T) {
	e := testEngine()
	dev := devicetest.New()
	cachePath := filepath.Join(t.TempDir(), "program.bin.base")

	require.NoError(t, e.Upload(dev, testImage(9, 512), diffOptions(cachePath)))
	require.NoError(t, e.Erase(dev, 1))

	assert.Nil(t, dev.UserFile("slot_1.bin"))
	assert.Nil(t, dev.UserFile("slot_1.ini"))
	assert.Nil(t, dev.UserFile("slot_1.base.bin"))

	// Erasing an empty slot is fine; a bad slot is not.
	require.NoError(t, e.Erase(dev, 1))
	var sre *SlotRangeError
	assert.ErrorAs(t, e.Erase(dev, 9), &sre)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("monolith")
	require.NoError(t, err)
	assert.Equal(t, Monolith, s)

	s, err = ParseStrategy("differential")
	require.NoError(t, err)
	assert.Equal(t, Differential, s)

	_, err = ParseStrategy("sideways")
	assert.Error(t, err)
}
