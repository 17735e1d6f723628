package collaborator

import (
	"context"
	"fmt"
	"time"
)

// CapacityClient reserves and releases seats and vehicle slots on a scheduled departure.
type CapacityClient struct {
	c client
}

// NewCapacityClient creates a client for the capacity service at baseURL.
func NewCapacityClient(baseURL string, timeout time.Duration) *CapacityClient {
	return &CapacityClient{c: newClient(baseURL, timeout)}
}

type reserveRequest struct {
	Passengers int     `json:"passengers"`
	VehicleIDs []int64 `json:"vehicle_ids"`
}

type releaseRequest struct {
	BookingID  int64   `json:"booking_id"`
	Passengers int     `json:"passengers"`
	VehicleIDs []int64 `json:"vehicle_ids"`
}

// Reserve holds capacity for the passengers and vehicles on the schedule.
func (c *CapacityClient) Reserve(ctx context.Context, scheduleID int64, passengers int, vehicleIDs []int64) error {
	if vehicleIDs == nil {
		vehicleIDs = []int64{}
	}
	path := fmt.Sprintf("/api/v1/schedules/%d/reservations", scheduleID)
	if err := c.c.post(ctx, path, nil, reserveRequest{Passengers: passengers, VehicleIDs: vehicleIDs}, nil); err != nil {
		return fmt.Errorf("reserve capacity on schedule %d: %w", scheduleID, err)
	}
	return nil
}

// Release returns previously reserved capacity.
func (c *CapacityClient) Release(ctx context.Context, scheduleID, bookingID int64, passengers int, vehicleIDs []int64) error {
	if vehicleIDs == nil {
		vehicleIDs = []int64{}
	}
	path := fmt.Sprintf("/api/v1/schedules/%d/releases", scheduleID)
	body := releaseRequest{BookingID: bookingID, Passengers: passengers, VehicleIDs: vehicleIDs}
	if err := c.c.post(ctx, path, nil, body, nil); err != nil {
		return fmt.Errorf("release capacity on schedule %d: %w", scheduleID, err)
	}
	return nil
}
