// internal/hcom/requests.go
package hcom

import "fmt"

// RequestType is the 16 bit operation code in the header. The high byte
// is the payload class and the low byte the operation within it.
type RequestType uint16

const (
	classHeaderOnly RequestType = 0x0100
	classFileStart  RequestType = 0x0200
	classData       RequestType = 0x0300
	classText       RequestType = 0x0400
	classBinary     RequestType = 0x0500
)

// Class returns the payload class byte of the code
func (r RequestType) Class() RequestType {
	return r & 0xFF00
}

func (r RequestType) String() string {
	if name, ok := requestNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RequestType(0x%04x)", uint16(r))
}

// Host to device requests
const (
	RequestChangeTraceLevel       = classHeaderOnly | 0x01
	RequestFormatFileSystem       = classHeaderOnly | 0x02
	RequestEndFileTransfer        = classHeaderOnly | 0x03
	RequestResetPrimaryMcu        = classHeaderOnly | 0x04
	RequestEraseCoprocessorFlash  = classHeaderOnly | 0x09
	RequestEnterDfuMode           = classHeaderOnly | 0x0a
	RequestListFiles              = classHeaderOnly | 0x0c
	RequestListFilesAndCrc        = classHeaderOnly | 0x0d
	RequestRuntimeDisable         = classHeaderOnly | 0x0e
	RequestRuntimeEnable          = classHeaderOnly | 0x0f
	RequestRuntimeState           = classHeaderOnly | 0x10
	RequestGetDeviceInformation   = classHeaderOnly | 0x11
	RequestNoTraceToHost          = classHeaderOnly | 0x13
	RequestSendTraceToHost        = classHeaderOnly | 0x14
	RequestEndEspFileTransfer     = classHeaderOnly | 0x15
	RequestReadCoprocessorMac     = classHeaderOnly | 0x16
	RequestRestartCoprocessor     = classHeaderOnly | 0x17
	RequestSendTraceToUart        = classHeaderOnly | 0x19
	RequestNoTraceToUart          = classHeaderOnly | 0x1a
	RequestRuntimeUpdateFileEnd   = classHeaderOnly | 0x1c
	RequestStartDebugSession      = classHeaderOnly | 0x1d
	RequestGetDeviceName          = classHeaderOnly | 0x1e
	RequestRtcReadTime            = classHeaderOnly | 0x20
	RequestStartFileTransfer      = classFileStart | 0x01
	RequestDeleteFile             = classFileStart | 0x02
	RequestStartEspFileTransfer   = classFileStart | 0x03
	RequestStartRuntimeUpdate     = classFileStart | 0x04
	RequestGetInitialFileBytes    = classFileStart | 0x05
	RequestUploadFileData         = classData | 0x01
	RequestDebuggerData           = classData | 0x02
	RequestRtcSetTime             = classText | 0x01
)

// Device to host responses
const (
	ResponseRejected         = classText | 0x01
	ResponseAccepted         = classText | 0x02
	ResponseConcluded        = classText | 0x03
	ResponseError            = classText | 0x04
	ResponseInformation      = classText | 0x05
	ResponseListHeader       = classText | 0x06
	ResponseListMember       = classText | 0x07
	ResponseCrcMember        = classText | 0x08
	ResponseAppStdout        = classText | 0x09
	ResponseDeviceInfo       = classText | 0x0a
	ResponseTrace            = classText | 0x0b
	ResponseReconnect        = classText | 0x0c
	ResponseAppStderr        = classText | 0x0d
	ResponseFileStartOkay    = classText | 0x0e
	ResponseFileStartFail    = classText | 0x0f
	ResponseDeviceName       = classText | 0x10
	ResponseRuntimeState     = classText | 0x11
	ResponseDebuggingData    = classBinary | 0x01
	ResponseInitialFileBytes = classBinary | 0x02
)

var requestNames = map[RequestType]string{
	RequestChangeTraceLevel:      "ChangeTraceLevel",
	RequestFormatFileSystem:      "FormatFileSystem",
	RequestEndFileTransfer:       "EndFileTransfer",
	RequestResetPrimaryMcu:       "ResetPrimaryMcu",
	RequestEraseCoprocessorFlash: "EraseCoprocessorFlash",
	RequestEnterDfuMode:          "EnterDfuMode",
	RequestListFiles:             "ListFiles",
	RequestListFilesAndCrc:       "ListFilesAndCrc",
	RequestRuntimeDisable:        "RuntimeDisable",
	RequestRuntimeEnable:         "RuntimeEnable",
	RequestRuntimeState:          "RuntimeState",
	RequestGetDeviceInformation:  "GetDeviceInformation",
	RequestNoTraceToHost:         "NoTraceToHost",
	RequestSendTraceToHost:       "SendTraceToHost",
	RequestEndEspFileTransfer:    "EndEspFileTransfer",
	RequestReadCoprocessorMac:    "ReadCoprocessorMac",
	RequestRestartCoprocessor:    "RestartCoprocessor",
	RequestSendTraceToUart:       "SendTraceToUart",
	RequestNoTraceToUart:         "NoTraceToUart",
	RequestRuntimeUpdateFileEnd:  "RuntimeUpdateFileEnd",
	RequestStartDebugSession:     "StartDebugSession",
	RequestGetDeviceName:         "GetDeviceName",
	RequestRtcReadTime:           "RtcReadTime",
	RequestStartFileTransfer:     "StartFileTransfer",
	RequestDeleteFile:            "DeleteFile",
	RequestStartEspFileTransfer:  "StartEspFileTransfer",
	RequestStartRuntimeUpdate:    "StartRuntimeUpdate",
	RequestGetInitialFileBytes:   "GetInitialFileBytes",
	RequestUploadFileData:        "UploadFileData",
	RequestDebuggerData:          "DebuggerData",
	RequestRtcSetTime:            "RtcSetTime",
}
