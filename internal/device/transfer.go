// internal/device/transfer.go
package device

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"hcom/internal/hcom"
)

// TransferKind selects the start and end requests of a transfer
type TransferKind int

const (
	TransferFile TransferKind = iota
	TransferRuntime
	TransferCoprocessor
)

func (k TransferKind) String() string {
	switch k {
	case TransferFile:
		return "file"
	case TransferRuntime:
		return "runtime"
	case TransferCoprocessor:
		return "coprocessor"
	default:
		return fmt.Sprintf("TransferKind(%d)", int(k))
	}
}

func (k TransferKind) requests() (start, end hcom.RequestType) {
	switch k {
	case TransferRuntime:
		return hcom.RequestStartRuntimeUpdate, hcom.RequestRuntimeUpdateFileEnd
	case TransferCoprocessor:
		return hcom.RequestStartEspFileTransfer, hcom.RequestEndEspFileTransfer
	default:
		return hcom.RequestStartFileTransfer, hcom.RequestEndFileTransfer
	}
}

// TransferProgress is reported after every data packet
type TransferProgress struct {
	FileName   string
	BytesSent  int
	TotalBytes int
	Percent    float64
}

// FileTransfer describes one chunked upload
type FileTransfer struct {
	Kind            TransferKind
	Data            []byte
	DestinationName string
	Partition       uint32
	McuAddress      uint32
	MD5             string
	LastInSeries    bool
	AwaitCompletion bool
	Progress        func(TransferProgress)
}

// ChunkSize returns the file bytes carried by one data packet
func (c *Connection) ChunkSize() int {
	return c.opts.MaxPacketSize - hcom.HeaderLength
}

// WriteFile runs the start/data/end handshake for ft. A failure midway
// is returned as is; the caller restarts the whole transfer.
func (c *Connection) WriteFile(ctx context.Context, ft FileTransfer) error {
	chunkSize := c.ChunkSize()
	if chunks := (len(ft.Data) + chunkSize - 1) / chunkSize; chunks > math.MaxUint16 {
		return fmt.Errorf("%s is too large: %d packets", ft.DestinationName, chunks)
	}

	digest := ft.MD5
	if digest == "" && ft.McuAddress != 0 {
		sum := md5.Sum(ft.Data)
		digest = hex.EncodeToString(sum[:])
	}

	start, end := ft.Kind.requests()
	logger := c.logger.With(
		zap.String("file", ft.DestinationName),
		zap.Stringer("kind", ft.Kind),
		zap.Int("size", len(ft.Data)),
	)

	timeout := c.opts.FileStartTimeout
	if ft.Kind == TransferCoprocessor {
		timeout = c.opts.EspFileStartTimeout
	}

	payload := hcom.FileStartPayload{
		FileSize:   uint32(len(ft.Data)),
		Crc32:      crc32.ChecksumIEEE(ft.Data),
		McuAddress: ft.McuAddress,
		MD5:        digest,
		FileName:   ft.DestinationName,
	}

	logger.Debug("Starting transfer", zap.Uint32("crc32", payload.Crc32), zap.Uint32("mcu_address", ft.McuAddress))

	msg, err := c.SendCommand(ctx, Command{
		RequestType: start,
		UserData:    ft.Partition,
		Payload:     payload.Marshal(),
		Timeout:     timeout,
		Match: MatchTypes(
			hcom.MessageConcluded,
			hcom.MessageDownloadStartOkay,
			hcom.MessageDownloadStartFail,
		),
	})
	if err != nil {
		return fmt.Errorf("start transfer of %s: %w", ft.DestinationName, err)
	}

	switch msg.Type {
	case hcom.MessageDownloadStartOkay:
	case hcom.MessageDownloadStartFail:
		return &hcom.TransferAbortError{FileName: ft.DestinationName, Response: msg.Type, Reason: msg.Text}
	default:
		return &hcom.TransferAbortError{FileName: ft.DestinationName, Response: msg.Type, Reason: "device ended transfer before data"}
	}

	seq := uint16(1)
	for offset := 0; offset < len(ft.Data); offset += chunkSize {
		chunk := ft.Data[offset:min(offset+chunkSize, len(ft.Data))]
		if err := c.sendPacket(ctx, hcom.NewHeader(hcom.RequestUploadFileData, seq, 0), chunk); err != nil {
			return fmt.Errorf("send packet %d of %s: %w", seq, ft.DestinationName, err)
		}
		seq++

		if ft.Progress != nil {
			sent := offset + len(chunk)
			ft.Progress(TransferProgress{
				FileName:   ft.DestinationName,
				BytesSent:  sent,
				TotalBytes: len(ft.Data),
				Percent:    float64(sent) / float64(len(ft.Data)) * 100,
			})
		}
	}

	var lastInSeries uint32
	if ft.LastInSeries {
		lastInSeries = 1
	}

	endCmd := Command{RequestType: end, UserData: lastInSeries}
	if ft.AwaitCompletion {
		endCmd.Timeout = c.opts.FileEndTimeout
		endCmd.Match = MatchTypes(hcom.MessageConcluded)
	}
	if _, err := c.SendCommand(ctx, endCmd); err != nil {
		return fmt.Errorf("end transfer of %s: %w", ft.DestinationName, err)
	}

	logger.Info("Transfer complete", zap.Uint16("packets", seq-1))
	return nil
}

// WriteFileFromPath uploads a local file. An empty destName keeps the
// local base name.
func (c *Connection) WriteFileFromPath(ctx context.Context, path, destName string, progress func(TransferProgress)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if destName == "" {
		destName = filepath.Base(path)
	}
	return c.WriteFile(ctx, FileTransfer{
		Kind:            TransferFile,
		Data:            data,
		DestinationName: destName,
		LastInSeries:    true,
		AwaitCompletion: true,
		Progress:        progress,
	})
}

// WriteRuntime streams a runtime image. The device applies it and
// reboots once the end request is received.
func (c *Connection) WriteRuntime(ctx context.Context, path string, progress func(TransferProgress)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read runtime image %s: %w", path, err)
	}
	return c.WriteFile(ctx, FileTransfer{
		Kind:            TransferRuntime,
		Data:            data,
		DestinationName: filepath.Base(path),
		LastInSeries:    true,
		Progress:        progress,
	})
}

// CoprocessorImage is one coprocessor flash image and its address
type CoprocessorImage struct {
	FileName   string
	McuAddress uint32
}

// DefaultCoprocessorImages is the coprocessor flash layout
var DefaultCoprocessorImages = []CoprocessorImage{
	{FileName: "bootloader.bin", McuAddress: 0x1000},
	{FileName: "partition-table.bin", McuAddress: 0x8000},
	{FileName: "coprocessor.bin", McuAddress: 0x10000},
}

// WriteCoprocessorFiles flashes every image found in dir, in layout
// order. The final image carries the last-in-series flag.
func (c *Connection) WriteCoprocessorFiles(ctx context.Context, dir string, images []CoprocessorImage, progress func(TransferProgress)) error {
	if len(images) == 0 {
		images = DefaultCoprocessorImages
	}

	for i, image := range images {
		data, err := os.ReadFile(filepath.Join(dir, image.FileName))
		if err != nil {
			return fmt.Errorf("read coprocessor image: %w", err)
		}
		err = c.WriteFile(ctx, FileTransfer{
			Kind:            TransferCoprocessor,
			Data:            data,
			DestinationName: image.FileName,
			McuAddress:      image.McuAddress,
			LastInSeries:    i == len(images)-1,
			Progress:        progress,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
