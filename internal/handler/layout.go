// Package handler exposes the HTTP view of the bound floor layout.  Renderers
// poll the layout endpoint; operators rebind the space or retry after an
// error; the snapshot and journal endpoints read the optional mirrors.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/floor-sync/internal/binder"
	"github.com/iliyamo/floor-sync/internal/cache"
	"github.com/iliyamo/floor-sync/internal/layout"
	"github.com/iliyamo/floor-sync/internal/model"
	"github.com/iliyamo/floor-sync/internal/repository"
)

const DefaultJournalLimit = 50

// ViewSource is the binder as seen by the view API.
type ViewSource interface {
	View() *binder.View
	SetSpace(spaceID int64) error
	Retry(ctx context.Context) error
}

// EventCounters reports how many pushed events the router discarded.
type EventCounters interface {
	Dropped() uint64
	Unknown() uint64
}

type SnapshotLoader interface {
	Load(ctx context.Context, spaceID int64) (*cache.Snapshot, error)
}

type JournalLister interface {
	ListRecent(ctx context.Context, spaceID int64, limit int) ([]repository.JournalEntry, error)
}

// LayoutHandler serves the view API.  Counters, Snapshots and Journal may be
// nil; the endpoints backed by them then report the data as absent.
type LayoutHandler struct {
	Binder    ViewSource
	Counters  EventCounters
	Snapshots SnapshotLoader
	Journal   JournalLister
}

// UnitView is a seating unit decorated for rendering.
type UnitView struct {
	model.SeatingUnit
	Title string `json:"title"`
	Color string `json:"color"`
}

type LayoutResponse struct {
	State      binder.State         `json:"state"`
	Connection string               `json:"connection"`
	SpaceID    int64                `json:"space_id"`
	Version    uint64               `json:"version"`
	Units      []UnitView           `json:"units"`
	Counts     map[model.Status]int `json:"counts"`
	Statuses   []model.Status       `json:"statuses"`
	Total      int                  `json:"total"`
	Dropped    int64                `json:"dropped"`
	Malformed  uint64               `json:"malformed_events"`
	Unknown    uint64               `json:"unknown_events"`
	Error      string               `json:"error,omitempty"`
}

// GetLayout returns the current projection filtered by the optional status
// query parameter.  Counts and statuses always describe the whole
// projection.
func (h *LayoutHandler) GetLayout(c echo.Context) error {
	status := c.QueryParam("status")
	if status != "" && status != model.StatusAll {
		if _, err := model.ParseStatus(status); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
		}
	}

	v := h.Binder.View()
	filtered := v.Filter(status)
	units := make([]UnitView, 0, len(filtered))
	for _, u := range filtered {
		units = append(units, UnitView{
			SeatingUnit: u,
			Title:       layout.Title(u),
			Color:       layout.StatusColor(u.Status),
		})
	}
	resp := LayoutResponse{
		State:      v.State,
		Connection: v.Connection.String(),
		SpaceID:    v.SpaceID,
		Version:    v.Version,
		Units:      units,
		Counts:     layout.StatusCounts(v.Units),
		Statuses:   layout.UniqueStatuses(v.Units),
		Total:      len(v.Units),
		Dropped:    v.Dropped,
	}
	if h.Counters != nil {
		resp.Malformed = h.Counters.Dropped()
		resp.Unknown = h.Counters.Unknown()
	}
	if v.Err != nil {
		resp.Error = v.Err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

type setSpaceRequest struct {
	SpaceID int64 `json:"space_id"`
}

// SetSpace rebinds the layout to another space.  The switch happens
// asynchronously; clients follow it through GetLayout.
func (h *LayoutHandler) SetSpace(c echo.Context) error {
	var req setSpaceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	switch err := h.Binder.SetSpace(req.SpaceID); {
	case errors.Is(err, binder.ErrInvalidSpace):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, binder.ErrTerminated):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": err.Error()})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusAccepted, echo.Map{"space_id": req.SpaceID})
}

// Retry restarts initialization after an error.
func (h *LayoutHandler) Retry(c echo.Context) error {
	switch err := h.Binder.Retry(c.Request().Context()); {
	case errors.Is(err, binder.ErrNotInError):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, binder.ErrTerminated):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": err.Error()})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.NoContent(http.StatusAccepted)
}

// GetSnapshot returns the last snapshot mirrored to Redis for a space.
func (h *LayoutHandler) GetSnapshot(c echo.Context) error {
	spaceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || spaceID <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid space id"})
	}
	if h.Snapshots == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "snapshots disabled"})
	}
	snap, err := h.Snapshots.Load(c.Request().Context(), spaceID)
	if errors.Is(err, cache.ErrSnapshotNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "snapshot not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cache error"})
	}
	return c.JSON(http.StatusOK, snap)
}

// GetJournal lists the newest journaled changes of a space.
func (h *LayoutHandler) GetJournal(c echo.Context) error {
	spaceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || spaceID <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid space id"})
	}
	limit := DefaultJournalLimit
	if s := c.QueryParam("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
	}
	if h.Journal == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "journal disabled"})
	}
	entries, err := h.Journal.ListRecent(c.Request().Context(), spaceID, limit)
	if errors.Is(err, repository.ErrInvalidLimit) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": entries})
}
