package transfer

import (
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v5deploy/internal/devicetest"
	"v5deploy/internal/protocol"
)

func testConfig() Config {
	return Config{
		InitTimeout:    10 * time.Millisecond,
		InitAttempts:   3,
		WriteTimeout:   10 * time.Millisecond,
		WriteAttempts:  3,
		LinkTimeout:    10 * time.Millisecond,
		LinkAttempts:   3,
		ExitTimeout:    10 * time.Millisecond,
		ExitAttempts:   3,
		StatusTimeout:  10 * time.Millisecond,
		StatusAttempts: 3,
	}
}

func testData(size int) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(i * 7)
	}
	return out
}

func TestUploadRoundTrip(t *testing.T) {
	dev := devicetest.New()
	c := NewClient(testConfig(), nil)
	data := testData(4096)

	err := c.Upload(dev, UploadParams{
		Name:        "slot_1.bin",
		Vendor:      protocol.VendorUser,
		Metadata:    NewFileMetadata("bin"),
		Data:        data,
		Target:      protocol.TargetQSPI,
		LoadAddress: 0x03800000,
		After:       ActionNone,
	})
	require.NoError(t, err)

	file := dev.UserFile("slot_1.bin")
	require.NotNil(t, file)
	assert.Equal(t, data, file.Data)
	assert.Equal(t, crc32.ChecksumIEEE(data), file.CRC)
	assert.Equal(t, uint32(0x03800000), file.LoadAddress)
}

func TestUploadChunksToGrantedWindow(t *testing.T) {
	dev := devicetest.New()
	dev.WindowSize = 512
	c := NewClient(testConfig(), nil)

	err := c.Upload(dev, UploadParams{
		Name:        "slot_2.bin",
		Vendor:      protocol.VendorUser,
		Metadata:    NewFileMetadata("bin"),
		Data:        testData(2048),
		LoadAddress: 0x03800000,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, dev.WriteCount)
}

func TestUploadPadsOddTail(t *testing.T) {
	dev := devicetest.New()
	c := NewClient(testConfig(), nil)
	data := testData(1001)

	err := c.Upload(dev, UploadParams{
		Name:        "slot_3.bin",
		Vendor:      protocol.VendorUser,
		Metadata:    NewFileMetadata("bin"),
		Data:        data,
		LoadAddress: 0x03800000,
	})
	require.NoError(t, err)

	// The catalog entry keeps the declared size, not the padded one.
	file := dev.UserFile("slot_3.bin")
	require.NotNil(t, file)
	assert.Equal(t, data, file.Data)
}

func TestUploadCompletesWithDegenerateWindow(t *testing.T) {
	dev := devicetest.New()
	dev.WindowSize = 1
	c := NewClient(testConfig(), nil)
	data := testData(16)

	err := c.Upload(dev, UploadParams{
		Name:        "slot_7.bin",
		Vendor:      protocol.VendorUser,
		Metadata:    NewFileMetadata("bin"),
		Data:        data,
		LoadAddress: 0x03800000,
	})
	require.NoError(t, err)

	file := dev.UserFile("slot_7.bin")
	require.NotNil(t, file)
	assert.Equal(t, data, file.Data)
	assert.Equal(t, 8, dev.WriteCount)
}

func TestUploadReportsMonotonicProgress(t *testing.T) {
	dev := devicetest.New()
	dev.WindowSize = 1024
	c := NewClient(testConfig(), nil)

	var fractions []float64
	err := c.Upload(dev, UploadParams{
		Name:        "slot_4.bin",
		Vendor:      protocol.VendorUser,
		Metadata:    NewFileMetadata("bin"),
		Data:        testData(4096),
		LoadAddress: 0x03800000,
		Progress:    func(f float64) { fractions = append(fractions, f) },
	})
	require.NoError(t, err)

	require.Len(t, fractions, 4)
	for i := 1; i < len(fractions); i++ {
		assert.Greater(t, fractions[i], fractions[i-1])
	}
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
}

func TestUploadEmptyFileStillCompletes(t *testing.T) {
	dev := devicetest.New()
	c := NewClient(testConfig(), nil)

	var fractions []float64
	err := c.Upload(dev, UploadParams{
		Name:        "slot_5.ini",
		Vendor:      protocol.VendorUser,
		Metadata:    NewFileMetadata("ini"),
		LoadAddress: 0x03800000,
		Progress:    func(f float64) { fractions = append(fractions, f) },
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, fractions)
	assert.NotNil(t, dev.UserFile("slot_5.ini"))
}

func TestUploadLinkedFileRecordsLink(t *testing.T) {
	dev := devicetest.New()
	c := NewClient(testConfig(), nil)

	// The base has to exist before a linked upload.
	require.NoError(t, c.Upload(dev, UploadParams{
		Name:        "slot_1.base.bin",
		Vendor:      protocol.VendorUser,
		Metadata:    NewFileMetadata("bin"),
		Data:        testData(1024),
		LoadAddress: 0x03800000,
	}))

	err := c.Upload(dev, UploadParams{
		Name:        "slot_1.bin",
		Vendor:      protocol.VendorUser,
		Metadata:    NewFileMetadata("bin"),
		Data:        testData(64),
		LoadAddress: 0x07A00000,
		Linked:      &LinkedFile{Name: "slot_1.base.bin", Vendor: protocol.VendorUser},
		After:       ActionRun,
	})
	require.NoError(t, err)

	file := dev.UserFile("slot_1.bin")
	require.NotNil(t, file)
	assert.Equal(t, "slot_1.base.bin", file.Linked)
	assert.Equal(t, byte(ActionRun), file.After)
}

func TestUploadLinkToMissingBaseFails(t *testing.T) {
	dev := devicetest.New()
	c := NewClient(testConfig(), nil)

	err := c.Upload(dev, UploadParams{
		Name:        "slot_1.bin",
		Vendor:      protocol.VendorUser,
		Metadata:    NewFileMetadata("bin"),
		Data:        testData(64),
		LoadAddress: 0x07A00000,
		Linked:      &LinkedFile{Name: "slot_1.base.bin", Vendor: protocol.VendorUser},
	})
	var nack *protocol.NackError
	require.ErrorAs(t, err, &nack)
	assert.Equal(t, protocol.NackProgramFile, nack.Code)
}

func TestUploadAbortsOnWriteNack(t *testing.T) {
	dev := devicetest.New()
	dev.NackWrites = protocol.NackTransferCRC
	c := NewClient(testConfig(), nil)

	err := c.Upload(dev, UploadParams{
		Name:        "slot_6.bin",
		Vendor:      protocol.VendorUser,
		Metadata:    NewFileMetadata("bin"),
		Data:        testData(128),
		LoadAddress: 0x03800000,
	})
	var nack *protocol.NackError
	require.ErrorAs(t, err, &nack)
	assert.Equal(t, protocol.NackTransferCRC, nack.Code)
	assert.Nil(t, dev.UserFile("slot_6.bin"))
}

func TestMetadataMissingFileIsNotAnError(t *testing.T) {
	dev := devicetest.New()
	c := NewClient(testConfig(), nil)

	meta, err := c.Metadata(dev, "slot_9.bin", protocol.VendorUser)
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestMetadataReflectsUpload(t *testing.T) {
	dev := devicetest.New()
	c := NewClient(testConfig(), nil)
	data := testData(4096)

	require.NoError(t, c.Upload(dev, UploadParams{
		Name:        "slot_1.bin",
		Vendor:      protocol.VendorUser,
		Metadata:    NewFileMetadata("bin"),
		Data:        data,
		LoadAddress: 0x03800000,
	}))

	meta, err := c.Metadata(dev, "slot_1.bin", protocol.VendorUser)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, uint32(4096), meta.Size)
	assert.Equal(t, crc32.ChecksumIEEE(data), meta.CRC)
}

func TestEraseIsIdempotent(t *testing.T) {
	dev := devicetest.New()
	c := NewClient(testConfig(), nil)

	require.NoError(t, c.Upload(dev, UploadParams{
		Name:        "slot_1.bin",
		Vendor:      protocol.VendorUser,
		Metadata:    NewFileMetadata("bin"),
		Data:        testData(32),
		LoadAddress: 0x03800000,
	}))

	require.NoError(t, c.Erase(dev, "slot_1.bin", protocol.VendorUser))
	assert.Nil(t, dev.UserFile("slot_1.bin"))
	require.NoError(t, c.Erase(dev, "slot_1.bin", protocol.VendorUser))
}

func TestChunkSize(t *testing.T) {
	cases := []struct {
		window uint16
		max    int
		want   int
	}{
		{0, 0, 4096},
		{1, 0, 2},
		{2, 0, 2},
		{3, 0, 2},
		{1024, 0, 1024},
		{1025, 0, 1024},
		{4096, 1, 2},
		{4096, 244, 244},
		{4096, 245, 244},
	}
	for _, tc := range cases {
		c := NewClient(Config{MaxChunk: tc.max}, nil)
		assert.Equal(t, tc.want, c.chunkSize(tc.window), "window %d max %d", tc.window, tc.max)
	}
}
