package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// AttendanceLister reads the attendance of the current day.
type AttendanceLister interface {
	Today(ctx context.Context) ([]database.AttendanceRecord, error)
	Location() *time.Location
}

// AttendanceHandler handles attendance endpoints
type AttendanceHandler struct {
	recorder AttendanceLister
	now      func() time.Time
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(recorder AttendanceLister) *AttendanceHandler {
	return &AttendanceHandler{recorder: recorder, now: time.Now}
}

// TodayResponse is the attendance of one day.
type TodayResponse struct {
	Date    string                      `json:"date"`
	Present int                         `json:"present"`
	Late    int                         `json:"late"`
	Records []database.AttendanceRecord `json:"records"`
}

// Today lists today's check-ins, oldest first.
func (h *AttendanceHandler) Today(w http.ResponseWriter, r *http.Request) {
	records, err := h.recorder.Today(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "attendance store unavailable: "+err.Error())
		return
	}

	resp := TodayResponse{
		Date:    h.now().In(h.recorder.Location()).Format(time.DateOnly),
		Records: records,
	}
	if resp.Records == nil {
		resp.Records = []database.AttendanceRecord{}
	}
	for _, rec := range records {
		switch rec.Status {
		case database.StatusPresent:
			resp.Present++
		case database.StatusLate:
			resp.Late++
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
