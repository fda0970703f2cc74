// internal/handler/device_handler.go
package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"hcom/internal/discovery"
	"hcom/internal/firmware"
	"hcom/internal/hcom"
	"hcom/internal/service"
	"hcom/internal/utils"
)

// maxUploadSize bounds multipart uploads held in memory
const maxUploadSize = 32 << 20

// DeviceHandler handles device-related HTTP requests
type DeviceHandler struct {
	deviceService *service.DeviceService
	logger        *utils.ServiceLogger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(deviceService *service.DeviceService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		logger:        utils.NewServiceLogger(utils.OrNop(logger), "device-handler"),
	}
}

// UpdateRequest starts a firmware update. Image paths are local to the
// host running the service.
type UpdateRequest struct {
	Version        string `json:"version" binding:"required"`
	OsFile         string `json:"os_file"`
	RuntimeFile    string `json:"runtime_file"`
	CoprocessorDir string `json:"coprocessor_dir"`
	SerialNumber   string `json:"serial_number"`
}

// DebuggingRequest starts a debugging session
type DebuggingRequest struct {
	Port int `json:"port"`
}

// GetStatus returns the link status
// @Summary Device link status
// @Tags Device
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.ConnectionStatus}
// @Router /device/status [get]
func (h *DeviceHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Device status retrieved", h.deviceService.Status())
}

// GetInfo queries the device properties
// @Summary Device information
// @Tags Device
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.DeviceInfo}
// @Failure 503 {object} utils.APIResponse "Device not connected"
// @Router /device/info [get]
func (h *DeviceHandler) GetInfo(c *gin.Context) {
	info, err := h.deviceService.GetDeviceInfo(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to get device information", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device information retrieved", info)
}

// ListFiles lists the device file system
// @Summary List device files
// @Tags Files
// @Produce json
// @Param crc query bool false "Include CRC32 of each file"
// @Success 200 {object} utils.APIResponse{data=[]model.FileInfo}
// @Router /device/files [get]
func (h *DeviceHandler) ListFiles(c *gin.Context) {
	includeCrcs, _ := strconv.ParseBool(c.DefaultQuery("crc", "false"))

	files, err := h.deviceService.ListFiles(c.Request.Context(), includeCrcs)
	if err != nil {
		h.fail(c, "Failed to list files", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Files retrieved", files)
}

// UploadFile writes a multipart file to the device
// @Summary Upload a file
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File to upload"
// @Param name formData string false "Destination name, defaults to the upload name"
// @Success 201 {object} utils.APIResponse{data=model.Operation}
// @Router /device/files [post]
func (h *DeviceHandler) UploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Missing file", err)
		return
	}
	if header.Size > maxUploadSize {
		utils.ErrorResponse(c, http.StatusRequestEntityTooLarge, "File too large", nil)
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = header.Filename
	}

	file, err := header.Open()
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Unreadable upload", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Unreadable upload", err)
		return
	}

	op, err := h.deviceService.UploadFile(c.Request.Context(), name, data)
	if err != nil {
		h.fail(c, "Failed to upload file", err)
		return
	}

	h.logger.Info("File uploaded", zap.String("file", name), zap.Int("size", len(data)))
	utils.SuccessResponse(c, http.StatusCreated, "File uploaded", op)
}

// DeleteFile removes a device file
// @Summary Delete a file
// @Tags Files
// @Produce json
// @Param name path string true "File name"
// @Success 200 {object} utils.APIResponse
// @Router /device/files/{name} [delete]
func (h *DeviceHandler) DeleteFile(c *gin.Context) {
	name := c.Param("name")
	if err := h.deviceService.DeleteFile(c.Request.Context(), name); err != nil {
		h.fail(c, "Failed to delete file", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "File deleted", gin.H{"name": name})
}

// EnableRuntime enables the on-device runtime
// @Summary Enable runtime
// @Tags Runtime
// @Router /device/runtime/enable [post]
func (h *DeviceHandler) EnableRuntime(c *gin.Context) {
	h.setRuntime(c, true)
}

// DisableRuntime disables the on-device runtime
// @Summary Disable runtime
// @Tags Runtime
// @Router /device/runtime/disable [post]
func (h *DeviceHandler) DisableRuntime(c *gin.Context) {
	h.setRuntime(c, false)
}

func (h *DeviceHandler) setRuntime(c *gin.Context, enable bool) {
	if err := h.deviceService.SetRuntime(c.Request.Context(), enable); err != nil {
		h.fail(c, "Failed to change runtime state", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Runtime state changed", gin.H{"enabled": enable})
}

// Reset reboots the device
// @Summary Reset device
// @Tags Device
// @Router /device/reset [post]
func (h *DeviceHandler) Reset(c *gin.Context) {
	if err := h.deviceService.ResetDevice(c.Request.Context()); err != nil {
		h.fail(c, "Failed to reset device", err)
		return
	}
	utils.SuccessResponse(c, http.StatusAccepted, "Device reset requested", nil)
}

// StartUpdate launches a firmware update
// @Summary Start firmware update
// @Tags Update
// @Accept json
// @Produce json
// @Param request body UpdateRequest true "Update request"
// @Success 202 {object} utils.APIResponse{data=model.Operation}
// @Failure 409 {object} utils.APIResponse "Device busy"
// @Router /device/update [post]
func (h *DeviceHandler) StartUpdate(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	op, err := h.deviceService.StartUpdate(c.Request.Context(), firmware.Request{
		Version:        req.Version,
		OsFile:         req.OsFile,
		RuntimeFile:    req.RuntimeFile,
		CoprocessorDir: req.CoprocessorDir,
		SerialNumber:   req.SerialNumber,
	})
	if err != nil {
		h.fail(c, "Failed to start update", err)
		return
	}
	utils.SuccessResponse(c, http.StatusAccepted, "Update started", op)
}

// GetOperation returns an operation by id
// @Summary Operation status
// @Tags Operations
// @Produce json
// @Param operation_id path string true "Operation ID"
// @Success 200 {object} utils.APIResponse{data=model.Operation}
// @Failure 404 {object} utils.APIResponse "Operation not found"
// @Router /operations/{operation_id} [get]
func (h *DeviceHandler) GetOperation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("operation_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid operation ID", err)
		return
	}

	op, err := h.deviceService.GetOperation(id)
	if err != nil {
		h.fail(c, "Failed to get operation", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Operation retrieved", op)
}

// StartDebugging opens the debugging proxy
// @Summary Start debugging session
// @Tags Debugging
// @Accept json
// @Produce json
// @Param request body DebuggingRequest false "Debugger port"
// @Success 201 {object} utils.APIResponse
// @Router /debugging [post]
func (h *DeviceHandler) StartDebugging(c *gin.Context) {
	var req DebuggingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	if req.Port < 0 || req.Port > 65535 {
		utils.ValidationErrorResponse(c, map[string]string{"port": "must be between 0 and 65535"})
		return
	}

	addr, err := h.deviceService.StartDebugging(c.Request.Context(), req.Port)
	if err != nil {
		h.fail(c, "Failed to start debugging", err)
		return
	}
	utils.SuccessResponse(c, http.StatusCreated, "Debugging started", gin.H{"address": addr})
}

// StopDebugging closes the debugging proxy
// @Summary Stop debugging session
// @Tags Debugging
// @Router /debugging [delete]
func (h *DeviceHandler) StopDebugging(c *gin.Context) {
	if err := h.deviceService.StopDebugging(); err != nil {
		h.fail(c, "Failed to stop debugging", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Debugging stopped", nil)
}

// ListPorts lists host serial ports
// @Summary List serial ports
// @Tags Device
// @Param kind query string false "scanner type, serial"
// @Success 200 {object} utils.APIResponse{data=[]discovery.Candidate}
// @Router /ports [get]
func (h *DeviceHandler) ListPorts(c *gin.Context) {
	kind := c.Query("kind")
	switch kind {
	case "", discovery.ScannerSerial:
	default:
		utils.ValidationErrorResponse(c, map[string]string{"kind": "must be serial"})
		return
	}

	ports, err := h.deviceService.ScanPorts(c.Request.Context(), kind)
	if err != nil {
		h.fail(c, "Failed to scan ports", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Ports retrieved", ports)
}

// fail maps service and protocol errors to HTTP statuses
func (h *DeviceHandler) fail(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	} else {
		h.logger.Warn(message, zap.Error(err))
	}
	utils.ErrorResponse(c, status, message, err)
}

func statusFor(err error) int {
	var (
		timeout  *hcom.CommandTimeoutError
		rejected *hcom.CommandRejectedError
		aborted  *hcom.TransferAbortError
	)
	switch {
	case errors.Is(err, service.ErrBusy), errors.Is(err, service.ErrDebuggingActive):
		return http.StatusConflict
	case errors.Is(err, service.ErrOperationNotFound), errors.Is(err, service.ErrNotDebugging):
		return http.StatusNotFound
	case errors.Is(err, hcom.ErrDeviceDisconnected):
		return http.StatusServiceUnavailable
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &rejected), errors.As(err, &aborted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
