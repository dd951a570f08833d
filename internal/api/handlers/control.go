package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/api/middleware"
	"github.com/dvloznov/mail-ledger/internal/domain"
	"github.com/dvloznov/mail-ledger/internal/jobs"
	"github.com/dvloznov/mail-ledger/internal/scheduler"
)

// SchedulerControl is the part of scheduler.Scheduler the API drives.
type SchedulerControl interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Configure(cfg domain.ScheduleConfig) error
	State() scheduler.State
	Schedule() domain.ScheduleConfig
}

// RunControl is the part of the orchestrator the API drives.
type RunControl interface {
	Cancel()
	Busy() bool
}

// StatusReader returns the current processing status.
type StatusReader interface {
	Snapshot() domain.ProcessingStatus
}

// Broadcaster pushes the current status to subscribers.
type Broadcaster interface {
	Broadcast()
}

// ScheduleView is the wire form of a schedule.
type ScheduleView struct {
	IntervalMinutes int    `json:"interval_minutes"`
	StartTime       string `json:"start_time,omitempty"`
	EndTime         string `json:"end_time,omitempty"`
}

// StatusResponse is returned by GET /api/status and pushed over /ws.
type StatusResponse struct {
	domain.ProcessingStatus
	SchedulerState scheduler.State `json:"scheduler_state"`
	Busy           bool            `json:"busy"`
	Schedule       ScheduleView    `json:"schedule"`
}

// ControlHandler handles scheduler and on-demand run endpoints.
type ControlHandler struct {
	scheduler    SchedulerControl
	runs         RunControl
	status       StatusReader
	publisher    jobs.Publisher
	broadcaster  Broadcaster
	rangeMaxDays int
	stopTimeout  time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

// NewControlHandler creates a new control handler. rangeMaxDays bounds how far
// back an on-demand range may start.
func NewControlHandler(sched SchedulerControl, runs RunControl, status StatusReader, publisher jobs.Publisher, rangeMaxDays int, stopTimeout time.Duration, log zerolog.Logger) *ControlHandler {
	return &ControlHandler{
		scheduler:    sched,
		runs:         runs,
		status:       status,
		publisher:    publisher,
		rangeMaxDays: rangeMaxDays,
		stopTimeout:  stopTimeout,
		now:          time.Now,
		log:          log,
	}
}

// SetBroadcaster wires the push channel; it is created after the handler
// because it reads snapshots from it.
func (h *ControlHandler) SetBroadcaster(b Broadcaster) {
	h.broadcaster = b
}

func (h *ControlHandler) broadcast() {
	if h.broadcaster != nil {
		h.broadcaster.Broadcast()
	}
}

// Snapshot assembles the status payload.
func (h *ControlHandler) Snapshot() StatusResponse {
	return StatusResponse{
		ProcessingStatus: h.status.Snapshot(),
		SchedulerState:   h.scheduler.State(),
		Busy:             h.runs.Busy(),
		Schedule:         scheduleView(h.scheduler.Schedule()),
	}
}

func scheduleView(cfg domain.ScheduleConfig) ScheduleView {
	v := ScheduleView{IntervalMinutes: int(cfg.Interval / time.Minute)}
	if cfg.StartTime != nil {
		v.StartTime = cfg.StartTime.String()
	}
	if cfg.EndTime != nil {
		v.EndTime = cfg.EndTime.String()
	}
	return v
}

// GetStatus handles GET /api/status
func (h *ControlHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.Snapshot())
}

// Start handles POST /api/start
func (h *ControlHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Start(r.Context()); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			middleware.WriteError(w, http.StatusConflict, "Scheduler is already running")
			return
		}
		h.log.Error().Err(err).Msg("Failed to start scheduler")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to start scheduler")
		return
	}

	h.broadcast()
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// Stop handles POST /api/stop. It also cancels an on-demand run in progress;
// 409 is returned only when there was nothing to stop.
func (h *ControlHandler) Stop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.stopTimeout)
	defer cancel()

	busy := h.runs.Busy()
	h.runs.Cancel()

	err := h.scheduler.Stop(ctx)
	if errors.Is(err, scheduler.ErrNotRunning) {
		if !busy {
			middleware.WriteError(w, http.StatusConflict, "Scheduler is not running")
			return
		}
		err = nil
	}
	if err != nil {
		h.log.Warn().Err(err).Msg("Scheduler did not stop within timeout")
	}

	h.broadcast()
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// Configure handles POST /api/configure
func (h *ControlHandler) Configure(w http.ResponseWriter, r *http.Request) {
	var req ScheduleView
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg, err := req.toConfig()
	if err == nil {
		err = h.scheduler.Configure(cfg)
	}
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.broadcast()
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "configured"})
}

func (v ScheduleView) toConfig() (domain.ScheduleConfig, error) {
	cfg := domain.ScheduleConfig{Interval: time.Duration(v.IntervalMinutes) * time.Minute}
	if v.StartTime != "" {
		t, err := domain.ParseTimeOfDay(v.StartTime)
		if err != nil {
			return cfg, fmt.Errorf("start_time must be HH:MM")
		}
		cfg.StartTime = &t
	}
	if v.EndTime != "" {
		t, err := domain.ParseTimeOfDay(v.EndTime)
		if err != nil {
			return cfg, fmt.Errorf("end_time must be HH:MM")
		}
		cfg.EndTime = &t
	}
	return cfg, cfg.Validate()
}

// SummarizeRange handles POST /api/summarize-range
func (h *ControlHandler) SummarizeRange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
		Notify    *bool  `json:"notify"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	dr, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validateRecentRange(dr); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &jobs.SummarizeRangeJob{
		StartDate: dr.Start,
		EndDate:   dr.End,
		Notify:    req.Notify == nil || *req.Notify,
	}
	if err := h.publisher.PublishSummarizeRange(r.Context(), job); err != nil {
		if errors.Is(err, jobs.ErrBusy) {
			middleware.WriteError(w, http.StatusConflict, "A processing run is already in progress")
			return
		}
		h.log.Error().Err(err).Msg("Failed to enqueue summarize-range job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to start processing")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("start_date", dr.Start.String()).
		Str("end_date", dr.End.String()).
		Msg("Summarize-range job accepted")

	h.broadcast()
	middleware.WriteJSON(w, http.StatusAccepted, job)
}

// validateRecentRange accepts ranges inside [today-rangeMaxDays, today].
func (h *ControlHandler) validateRecentRange(dr domain.DateRange) error {
	today := domain.Today(h.now())
	if dr.Start.Before(today.AddDays(-h.rangeMaxDays)) || dr.End.After(today) {
		return fmt.Errorf("date range must be within the last %d days and not after today", h.rangeMaxDays)
	}
	if !dr.Valid() {
		return fmt.Errorf("start_date must not be after end_date")
	}
	return nil
}
