package protocol

import (
	"encoding/binary"
	"fmt"
)

// Vendor namespaces the device's file catalog. (vendor, file name) is the
// catalog key.
type Vendor byte

const (
	VendorUser Vendor = 1
	VendorSys  Vendor = 15
	VendorVex  Vendor = 240
)

// ProductType distinguishes a direct Brain connection from one routed
// through a controller.
type ProductType byte

const (
	ProductBrain      ProductType = 0x10
	ProductController ProductType = 0x11
)

// MaxFileName is the longest catalog file name the device accepts,
// excluding the NUL terminator.
const MaxFileName = 23

const fileNameField = MaxFileName + 1

func appendFileName(buf []byte, name string) ([]byte, error) {
	if len(name) > MaxFileName {
		return nil, fmt.Errorf("file name %q exceeds %d bytes", name, MaxFileName)
	}
	field := make([]byte, fileNameField)
	copy(field, name)
	return append(buf, field...), nil
}

// --- System version (simple command) ---

type SystemVersionRequest struct{}

func (SystemVersionRequest) ID() CommandID            { return CommandID{Command: CmdSystemVersion} }
func (SystemVersionRequest) Payload() ([]byte, error) { return nil, nil }

type SystemVersion struct {
	Major, Minor, Build, Beta byte
	Product                   ProductType
}

func DecodeSystemVersion(r *Reply) (*SystemVersion, error) {
	if len(r.Payload) < 5 {
		return nil, fmt.Errorf("system version reply too short: %d bytes", len(r.Payload))
	}
	return &SystemVersion{
		Major:   r.Payload[0],
		Minor:   r.Payload[1],
		Build:   r.Payload[2],
		Beta:    r.Payload[3],
		Product: ProductType(r.Payload[4]),
	}, nil
}

// --- System flags ---

type SystemFlagsRequest struct{}

func (SystemFlagsRequest) ID() CommandID {
	return CommandID{Command: CmdExtended, Extended: ExtGetSystemFlags}
}
func (SystemFlagsRequest) Payload() ([]byte, error) { return nil, nil }

type SystemFlags struct {
	Flags uint32
}

// Tethered reports whether the controller currently has a USB link to the
// Brain, in which case radio channel switching is pointless.
func (f *SystemFlags) Tethered() bool {
	return f.Flags&(1<<8) != 0
}

func DecodeSystemFlags(r *Reply) (*SystemFlags, error) {
	if len(r.Payload) < 4 {
		return nil, fmt.Errorf("system flags reply too short: %d bytes", len(r.Payload))
	}
	return &SystemFlags{Flags: binary.LittleEndian.Uint32(r.Payload)}, nil
}

// --- Radio status ---

type RadioStatusRequest struct{}

func (RadioStatusRequest) ID() CommandID {
	return CommandID{Command: CmdExtended, Extended: ExtGetRadioStatus}
}
func (RadioStatusRequest) Payload() ([]byte, error) { return nil, nil }

type RadioStatus struct {
	Channel byte
	Quality byte
}

func DecodeRadioStatus(r *Reply) (*RadioStatus, error) {
	if len(r.Payload) < 1 {
		return nil, fmt.Errorf("radio status reply too short: %d bytes", len(r.Payload))
	}
	status := &RadioStatus{Channel: r.Payload[0]}
	if len(r.Payload) > 1 {
		status.Quality = r.Payload[1]
	}
	return status, nil
}

// --- Radio channel select ---

// The channel select payload leads with a control-group byte; group 1 is
// the radio.
const controlGroupRadio byte = 1

type SelectChannelRequest struct {
	Channel byte
}

func (SelectChannelRequest) ID() CommandID {
	return CommandID{Command: CmdExtended, Extended: ExtSelectChannel}
}

func (p SelectChannelRequest) Payload() ([]byte, error) {
	return []byte{controlGroupRadio, p.Channel}, nil
}

// --- File transfer ---

// TransferTarget selects the device memory region bytes land in.
type TransferTarget byte

const (
	TargetDDR   TransferTarget = 0
	TargetQSPI  TransferTarget = 1
	TargetFlash TransferTarget = 6
)

// Transfer directions for InitFileTransferRequest.
const (
	TransferRead  byte = 0
	TransferWrite byte = 1
)

type InitFileTransferRequest struct {
	Operation     byte
	Target        TransferTarget
	Vendor        Vendor
	Overwrite     bool
	Size          uint32
	LoadAddress   uint32
	CRC           uint32
	Extension     [3]byte
	ExtensionType byte
	Timestamp     uint32
	Version       uint32
	Name          string
}

func (InitFileTransferRequest) ID() CommandID {
	return CommandID{Command: CmdExtended, Extended: ExtInitFileTransfer}
}

func (p InitFileTransferRequest) Payload() ([]byte, error) {
	var overwrite byte
	if p.Overwrite {
		overwrite = 1
	}
	buf := []byte{p.Operation, byte(p.Target), byte(p.Vendor), overwrite}
	buf = binary.LittleEndian.AppendUint32(buf, p.Size)
	buf = binary.LittleEndian.AppendUint32(buf, p.LoadAddress)
	buf = binary.LittleEndian.AppendUint32(buf, p.CRC)
	buf = append(buf, p.Extension[:]...)
	buf = append(buf, p.ExtensionType)
	buf = binary.LittleEndian.AppendUint32(buf, p.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, p.Version)
	return appendFileName(buf, p.Name)
}

// InitFileTransferReply reports the transfer window the device granted.
// WindowSize caps how many bytes each WriteFileRequest may carry.
type InitFileTransferReply struct {
	WindowSize uint16
	FileSize   uint32
	CRC        uint32
}

func DecodeInitFileTransfer(r *Reply) (*InitFileTransferReply, error) {
	if len(r.Payload) < 10 {
		return nil, fmt.Errorf("file transfer init reply too short: %d bytes", len(r.Payload))
	}
	return &InitFileTransferReply{
		WindowSize: binary.LittleEndian.Uint16(r.Payload[0:2]),
		FileSize:   binary.LittleEndian.Uint32(r.Payload[2:6]),
		CRC:        binary.LittleEndian.Uint32(r.Payload[6:10]),
	}, nil
}

type WriteFileRequest struct {
	Address uint32
	Data    []byte
}

func (WriteFileRequest) ID() CommandID {
	return CommandID{Command: CmdExtended, Extended: ExtWriteFile}
}

func (p WriteFileRequest) Payload() ([]byte, error) {
	buf := binary.LittleEndian.AppendUint32(nil, p.Address)
	return append(buf, p.Data...), nil
}

type LinkFileRequest struct {
	Vendor Vendor
	Name   string
}

func (LinkFileRequest) ID() CommandID {
	return CommandID{Command: CmdExtended, Extended: ExtLinkFile}
}

func (p LinkFileRequest) Payload() ([]byte, error) {
	return appendFileName([]byte{byte(p.Vendor), 0}, p.Name)
}

type ExitFileTransferRequest struct {
	Action byte
}

func (ExitFileTransferRequest) ID() CommandID {
	return CommandID{Command: CmdExtended, Extended: ExtExitFileTransfer}
}

func (p ExitFileTransferRequest) Payload() ([]byte, error) {
	return []byte{p.Action}, nil
}

type GetFileMetadataRequest struct {
	Vendor Vendor
	Name   string
}

func (GetFileMetadataRequest) ID() CommandID {
	return CommandID{Command: CmdExtended, Extended: ExtGetFileMetadata}
}

func (p GetFileMetadataRequest) Payload() ([]byte, error) {
	return appendFileName([]byte{byte(p.Vendor), 0}, p.Name)
}

// FileMetadataReply mirrors the catalog entry the device holds for a file.
type FileMetadataReply struct {
	Size        uint32
	LoadAddress uint32
	CRC         uint32
	Timestamp   uint32
	Version     uint32
}

func DecodeFileMetadata(r *Reply) (*FileMetadataReply, error) {
	if len(r.Payload) < 20 {
		return nil, fmt.Errorf("file metadata reply too short: %d bytes", len(r.Payload))
	}
	return &FileMetadataReply{
		Size:        binary.LittleEndian.Uint32(r.Payload[0:4]),
		LoadAddress: binary.LittleEndian.Uint32(r.Payload[4:8]),
		CRC:         binary.LittleEndian.Uint32(r.Payload[8:12]),
		Timestamp:   binary.LittleEndian.Uint32(r.Payload[12:16]),
		Version:     binary.LittleEndian.Uint32(r.Payload[16:20]),
	}, nil
}

// SetFileMetadataRequest rewrites the catalog entry of an existing file
// without touching its contents.
type SetFileMetadataRequest struct {
	Vendor        Vendor
	LoadAddress   uint32
	Extension     [3]byte
	ExtensionType byte
	Timestamp     uint32
	Version       uint32
	Name          string
}

func (SetFileMetadataRequest) ID() CommandID {
	return CommandID{Command: CmdExtended, Extended: ExtSetFileMetadata}
}

func (p SetFileMetadataRequest) Payload() ([]byte, error) {
	buf := []byte{byte(p.Vendor), 0}
	buf = binary.LittleEndian.AppendUint32(buf, p.LoadAddress)
	buf = append(buf, p.Extension[:]...)
	buf = append(buf, p.ExtensionType)
	buf = binary.LittleEndian.AppendUint32(buf, p.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, p.Version)
	return appendFileName(buf, p.Name)
}

type EraseFileRequest struct {
	Vendor Vendor
	Name   string
}

func (EraseFileRequest) ID() CommandID {
	return CommandID{Command: CmdExtended, Extended: ExtEraseFile}
}

func (p EraseFileRequest) Payload() ([]byte, error) {
	return appendFileName([]byte{byte(p.Vendor), 0}, p.Name)
}
