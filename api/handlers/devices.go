package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gaia-relay/backend/internal/auth"
	"github.com/gaia-relay/backend/internal/model"
	"github.com/gaia-relay/backend/internal/ws"
)

// PairedDevices lists the devices paired with a user.
type PairedDevices interface {
	DeviceIDsByUser(ctx context.Context, userID string) ([]string, error)
}

// DeviceLister loads devices by id.
type DeviceLister interface {
	ListByIDs(ctx context.Context, ids []string) ([]*model.Device, error)
}

// DeviceHandler serves the devices a user may observe.
type DeviceHandler struct {
	identities auth.IdentityResolver
	pairings   PairedDevices
	devices    DeviceLister
	logger     zerolog.Logger
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(identities auth.IdentityResolver, pairings PairedDevices, devices DeviceLister, logger zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{
		identities: identities,
		pairings:   pairings,
		devices:    devices,
		logger:     logger.With().Str("module", "api.devices").Logger(),
	}
}

// DeviceResponse represents a device in API responses.
type DeviceResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

// ListDevicesResponse is the body of GET /api/devices.
type ListDevicesResponse struct {
	Devices []*DeviceResponse `json:"devices"`
}

// List handles GET /api/devices. Only users may call it.
func (h *DeviceHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	token, rej := ws.ExtractAccessToken(c.Request.Header)
	if rej != nil {
		sendError(c, rej.Status, "UNAUTHORIZED", rej.Body)
		return
	}

	identity, err := h.identities.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			sendError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid access token")
			return
		}
		h.logger.Error().Err(err).Msg("failed to resolve token")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to resolve token")
		return
	}

	user, ok := identity.(model.UserIdentity)
	if !ok {
		sendError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Only users can list devices")
		return
	}

	ids, err := h.pairings.DeviceIDsByUser(ctx, user.ID())
	if err != nil {
		h.logger.Error().Err(err).Str("user", user.ID()).Msg("failed to list pairings")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list devices")
		return
	}

	devices, err := h.devices.ListByIDs(ctx, ids)
	if err != nil {
		h.logger.Error().Err(err).Str("user", user.ID()).Msg("failed to load devices")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list devices")
		return
	}

	resp := ListDevicesResponse{Devices: make([]*DeviceResponse, 0, len(devices))}
	for _, d := range devices {
		resp.Devices = append(resp.Devices, &DeviceResponse{
			ID:        d.ID,
			Name:      d.Name,
			CreatedAt: d.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// RegisterRoutes registers the device routes on a Gin router group.
func (h *DeviceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/devices", h.List)
}
