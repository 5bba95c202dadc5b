package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/records"
	"github.com/troikatech/voice-relay/internal/reconcile"
	"github.com/troikatech/voice-relay/pkg/audit"
	apperrors "github.com/troikatech/voice-relay/pkg/errors"
)

// reconcileTimeout bounds an on-demand reconciliation run.
const reconcileTimeout = 10 * time.Minute

type RecordsResponse struct {
	AgentID  string           `json:"agent_id"`
	CallDate string           `json:"call_date"`
	Count    int              `json:"count"`
	Records  []records.Record `json:"records"`
}

// ListRecords returns every call record for one agent and calling day.
func (h *Handler) ListRecords(c *gin.Context) {
	agentID, date := c.GetString("agent_id"), c.GetString("date")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	recs, err := h.store.ListByDateAndAgent(ctx, date, agentID)
	if err != nil {
		apperrors.InternalError(c, err, h.logger)
		return
	}
	if recs == nil {
		recs = []records.Record{}
	}
	h.recordAudit(c, audit.ActionListRecords, records.PartitionKey(agentID, date), map[string]interface{}{"count": len(recs)})
	c.JSON(http.StatusOK, RecordsResponse{
		AgentID:  agentID,
		CallDate: date,
		Count:    len(recs),
		Records:  recs,
	})
}

// reportColumns maps CSV headers to record fields. Date is the partition date.
var reportColumns = []struct {
	header string
	field  string
}{
	{"Date", ""},
	{"Time", "time"},
	{"Contact Number", ""},
	{"Call Status", "stage"},
	{"Medicine Taken", "medicine_taken"},
	{"Blood Glucose Level", "blood_glucose_level"},
	{"Systolic BP", "systolic_blood_pressure"},
	{"Diastolic BP", "diastolic_blood_pressure"},
}

// DownloadReport renders the day's records as a CSV attachment.
func (h *Handler) DownloadReport(c *gin.Context) {
	agentID, date := c.GetString("agent_id"), c.GetString("date")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	recs, err := h.store.ListByDateAndAgent(ctx, date, agentID)
	if err != nil {
		apperrors.InternalError(c, err, h.logger)
		return
	}

	h.recordAudit(c, audit.ActionDownloadReport, records.PartitionKey(agentID, date), map[string]interface{}{"rows": len(recs)})

	filename := fmt.Sprintf("ai_calls_%s_%s.csv", date, agentID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", "text/csv")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	header := make([]string, len(reportColumns))
	for i, col := range reportColumns {
		header[i] = col.header
	}
	if err := w.Write(header); err != nil {
		h.logger.Error("Failed to write report", zap.Error(err))
		return
	}
	for i := range recs {
		if err := w.Write(reportRow(&recs[i], date)); err != nil {
			h.logger.Error("Failed to write report", zap.Error(err))
			return
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.logger.Error("Failed to flush report", zap.Error(err))
	}
}

func reportRow(rec *records.Record, date string) []string {
	row := make([]string, len(reportColumns))
	for i, col := range reportColumns {
		switch col.header {
		case "Date":
			row[i] = date
		case "Contact Number":
			row[i] = rec.SK
		default:
			if v, ok := rec.Field(col.field); ok && v != nil {
				row[i] = fmt.Sprint(v)
			}
		}
	}
	return row
}

type ReconcileResponse struct {
	Message       string `json:"message"`
	WindowMinutes int    `json:"window_minutes"`
}

// TriggerReconcile starts a reconciliation run in the background.
func (h *Handler) TriggerReconcile(c *gin.Context) {
	window := h.reconciler.Window()
	if raw := c.Query("window_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			apperrors.BadRequest(c, "window_minutes must be a positive integer")
			return
		}
		window = time.Duration(minutes) * time.Minute
	}

	h.recordAudit(c, audit.ActionReconcile, "reconcile", map[string]interface{}{"window_minutes": int(window / time.Minute)})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		res, err := h.reconciler.Run(ctx, window)
		switch {
		case errors.Is(err, reconcile.ErrAlreadyRunning):
			h.logger.Info("Reconciliation already running, request skipped")
		case err != nil:
			h.logger.Error("On-demand reconciliation failed", zap.Error(err))
		default:
			h.logger.Info("On-demand reconciliation finished",
				zap.String("run_id", res.RunID),
				zap.Int("updated", res.Updated),
				zap.Int("failed", res.Failed),
			)
		}
	}()

	c.JSON(http.StatusAccepted, ReconcileResponse{
		Message:       "Update process initiated",
		WindowMinutes: int(window / time.Minute),
	})
}
