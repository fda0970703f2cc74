// internal/hcom/message.go
package hcom

import (
	"fmt"

	"hcom/internal/cobs"
)

// MessageType is the semantic kind of a device message
type MessageType int

const (
	MessageUndefined MessageType = iota
	MessageRejected
	MessageAccepted
	MessageConcluded
	MessageErrOutput
	MessageInformation
	MessageFileListTitle
	MessageFileListMember
	MessageFileListCrcMember
	MessageAppOutput
	MessageAppErrOutput
	MessageDeviceInfo
	MessageTrace
	MessageSerialReconnect
	MessageDownloadStartOkay
	MessageDownloadStartFail
	MessageDeviceName
	MessageRuntimeState
	MessageDebuggingData
	MessageInitialFileBytes
)

var messageTypeNames = [...]string{
	MessageUndefined:         "Undefined",
	MessageRejected:          "Rejected",
	MessageAccepted:          "Accepted",
	MessageConcluded:         "Concluded",
	MessageErrOutput:         "ErrOutput",
	MessageInformation:       "Information",
	MessageFileListTitle:     "FileListTitle",
	MessageFileListMember:    "FileListMember",
	MessageFileListCrcMember: "FileListCrcMember",
	MessageAppOutput:         "AppOutput",
	MessageAppErrOutput:      "AppErrOutput",
	MessageDeviceInfo:        "DeviceInfo",
	MessageTrace:             "Trace",
	MessageSerialReconnect:   "SerialReconnect",
	MessageDownloadStartOkay: "DownloadStartOkay",
	MessageDownloadStartFail: "DownloadStartFail",
	MessageDeviceName:        "DeviceName",
	MessageRuntimeState:      "RuntimeState",
	MessageDebuggingData:     "DebuggingData",
	MessageInitialFileBytes:  "InitialFileBytes",
}

func (t MessageType) String() string {
	if t >= 0 && int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// PayloadKind says how the bytes after the header are interpreted
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadText
	PayloadBinary
)

type dispatchEntry struct {
	messageType  MessageType
	kind         PayloadKind
	textRequired bool
}

var dispatchTable = map[RequestType]dispatchEntry{
	ResponseRejected:         {MessageRejected, PayloadText, false},
	ResponseAccepted:         {MessageAccepted, PayloadText, false},
	ResponseConcluded:        {MessageConcluded, PayloadText, false},
	ResponseError:            {MessageErrOutput, PayloadText, true},
	ResponseInformation:      {MessageInformation, PayloadText, true},
	ResponseListHeader:       {MessageFileListTitle, PayloadText, false},
	ResponseListMember:       {MessageFileListMember, PayloadText, true},
	ResponseCrcMember:        {MessageFileListCrcMember, PayloadText, true},
	ResponseAppStdout:        {MessageAppOutput, PayloadText, false},
	ResponseDeviceInfo:       {MessageDeviceInfo, PayloadText, true},
	ResponseTrace:            {MessageTrace, PayloadText, false},
	ResponseReconnect:        {MessageSerialReconnect, PayloadNone, false},
	ResponseAppStderr:        {MessageAppErrOutput, PayloadText, false},
	ResponseFileStartOkay:    {MessageDownloadStartOkay, PayloadNone, false},
	ResponseFileStartFail:    {MessageDownloadStartFail, PayloadText, false},
	ResponseDeviceName:       {MessageDeviceName, PayloadText, true},
	ResponseRuntimeState:     {MessageRuntimeState, PayloadText, true},
	ResponseDebuggingData:    {MessageDebuggingData, PayloadBinary, false},
	ResponseInitialFileBytes: {MessageInitialFileBytes, PayloadBinary, false},
}

// Message is one parsed device packet
type Message struct {
	Header Header
	Type   MessageType
	Text   string
	Data   []byte
}

// Parse interprets an unframed, decoded packet. Unknown codes and
// missing mandatory text return an error wrapping ErrProtocol.
func Parse(packet []byte) (*Message, error) {
	header, err := ParseHeader(packet)
	if err != nil {
		return nil, err
	}

	entry, ok := dispatchTable[header.RequestType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown request type 0x%04x", ErrProtocol, uint16(header.RequestType))
	}

	msg := &Message{Header: header, Type: entry.messageType}
	payload := packet[HeaderLength:]

	switch entry.kind {
	case PayloadText:
		if len(payload) == 0 && entry.textRequired {
			return nil, fmt.Errorf("%w: %s requires text", ErrProtocol, entry.messageType)
		}
		msg.Text = string(payload)
	case PayloadBinary:
		msg.Data = append([]byte(nil), payload...)
	}

	return msg, nil
}

// DecodeFrame undoes the COBS stuffing of a frame interior and parses it
func DecodeFrame(interior []byte) (*Message, error) {
	packet, err := cobs.Decode(interior)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFraming, err)
	}
	return Parse(packet)
}

// EncodeFrame builds a wire frame for header and payload
func EncodeFrame(h Header, payload []byte) []byte {
	return cobs.Frame(BuildPacket(h, payload))
}
