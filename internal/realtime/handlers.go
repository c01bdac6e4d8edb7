package realtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/practice-insights/internal/model"
	"github.com/yourorg/practice-insights/internal/validation"
)

// HandleChange converts a row change into metric events and recomputes the
// rules fed by them. A non-nil error means the change should be redelivered.
func (a *Aggregator) HandleChange(ctx context.Context, change model.Change) error {
	if a.stopped() {
		return nil
	}

	var err error
	switch change.Table {
	case model.TableAppointments:
		err = a.handleAppointmentChange(ctx, change)
	case model.TableBillings:
		err = a.handleBillingChange(ctx, change)
	case model.TablePatients:
		err = a.handlePatientChange(change)
	case model.TableOperatoryStatus:
		err = a.handleOperatoryChange(ctx)
	default:
		logrus.WithField("table", change.Table).Debug("Ignoring change for unwatched table")
		return nil
	}

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"table": change.Table,
			"event": change.EventType,
			"error": err,
		}).Warn("Change handler failed")
	}
	return err
}

func (a *Aggregator) stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateStopped
}

func (a *Aggregator) handleAppointmentChange(ctx context.Context, change model.Change) error {
	if change.EventType != model.EventUpdate {
		return nil
	}

	var next, prev model.Appointment
	if err := change.DecodeNew(&next); err != nil {
		return a.dropMalformed(change, err)
	}
	if err := change.DecodeOld(&prev); err != nil {
		return a.dropMalformed(change, err)
	}

	if next.Status == model.AppointmentCompleted && prev.Status != model.AppointmentCompleted {
		if err := a.updateProduction(ctx, next); err != nil {
			return err
		}
	}

	if next.Status == model.AppointmentInProgress && prev.Status == model.AppointmentScheduled {
		a.updatePatientFlow(next)
	}

	if next.ActualStartTime != nil && prev.ActualStartTime == nil {
		a.updateWaitTime(next)
	}

	if next.Status == model.AppointmentNoShow && prev.Status != model.AppointmentNoShow {
		a.updateNoShow(ctx, next)
	}
	return nil
}

func (a *Aggregator) updateProduction(ctx context.Context, appt model.Appointment) error {
	production := appt.Production()
	if len(appt.Treatments) == 0 && a.data != nil {
		lctx, cancel := a.lookupContext(ctx)
		defer cancel()

		value, err := a.data.AppointmentProduction(lctx, appt.ID)
		if err != nil {
			return fmt.Errorf("appointment %s production: %w", appt.ID, err)
		}
		production = value
	}

	event := model.NewMetricEvent("production_"+appt.ID, MetricAppointmentProduction, production, "$", model.CategoryFinancial, a.now())
	if a.emit(event, true) {
		a.recompute(RuleDailyProduction, RuleHourlyProduction)
	}
	return nil
}

func (a *Aggregator) updatePatientFlow(appt model.Appointment) {
	event := model.NewMetricEvent("flow_"+appt.ID, MetricPatientStarted, 1, "", model.CategoryOperational, a.now())
	if a.emit(event, true) {
		a.recompute(RulePatientThroughput)
	}
}

func (a *Aggregator) updateWaitTime(appt model.Appointment) {
	if appt.ScheduledTime.IsZero() {
		logrus.WithField("appointment", appt.ID).Debug("Skipping wait time without scheduled time")
		return
	}

	wait := math.Max(0, appt.ActualStartTime.Sub(appt.ScheduledTime).Minutes())
	event := model.NewMetricEvent("wait_"+appt.ID, MetricWaitTime, wait, "min", model.CategoryOperational, a.now())
	if a.emit(event, true) {
		a.recompute(RuleCurrentWaitTime)
	}
}

func (a *Aggregator) updateNoShow(ctx context.Context, appt model.Appointment) {
	now := a.now()
	event := model.NewMetricEvent("noshow_"+appt.ID, MetricNoShow, 1, "", model.CategoryOperational, now)
	if !a.emit(event, true) || a.data == nil {
		return
	}

	lctx, cancel := a.lookupContext(ctx)
	defer cancel()

	rate, err := a.data.RecentNoShowRate(lctx, now.Add(-a.noShowLookback))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"appointment": appt.ID,
			"error":       err,
		}).Warn("Failed to compute recent no-show rate")
		return
	}

	if rate > a.noShowThreshold {
		a.metrics.RealtimeAlert("high_no_show_rate")
		a.alerts.RaiseAlert(ctx, Alert{
			Name:      "high_no_show_rate",
			Value:     rate,
			Threshold: a.noShowThreshold,
			Message:   fmt.Sprintf("No-show rate has exceeded %.0f%% (current: %.1f%%)", a.noShowThreshold, rate),
			Timestamp: now,
		})
	}
}

// billingImage reads amount_paid from an old row image, which may omit it.
type billingImage struct {
	ID         string   `json:"id"`
	AmountPaid *float64 `json:"amount_paid"`
}

func (a *Aggregator) handleBillingChange(ctx context.Context, change model.Change) error {
	if change.EventType != model.EventInsert && change.EventType != model.EventUpdate {
		return nil
	}

	var bill model.Billing
	if err := change.DecodeNew(&bill); err != nil {
		return a.dropMalformed(change, err)
	}
	var prev billingImage
	if err := change.DecodeOld(&prev); err != nil {
		return a.dropMalformed(change, err)
	}

	if bill.AmountPaid > 0 {
		a.updateCollections(bill, prev)
	}
	a.updateOutstandingBalance(ctx)
	return nil
}

// updateCollections records only the newly collected amount, so repeated
// updates of one billing row never double count.
func (a *Aggregator) updateCollections(bill model.Billing, prev billingImage) {
	alreadyPaid := 0.0
	if prev.AmountPaid != nil {
		alreadyPaid = *prev.AmountPaid
	}

	a.mu.Lock()
	if mark, ok := a.paid[bill.ID]; ok && mark.amount > alreadyPaid {
		alreadyPaid = mark.amount
	}
	a.mu.Unlock()

	collected := bill.AmountPaid - alreadyPaid
	if collected <= 0 {
		return
	}

	id := "collection_" + bill.ID + "_" + strconv.FormatFloat(bill.AmountPaid, 'f', 2, 64)
	event := model.NewMetricEvent(id, MetricPaymentCollected, collected, "$", model.CategoryFinancial, a.now())
	if !a.emit(event, true) {
		return
	}
	a.notePaid(bill.ID, bill.AmountPaid)
	a.recompute(RuleDailyCollections)
}

func (a *Aggregator) notePaid(billingID string, amount float64) {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	for id, mark := range a.paid {
		if now.Sub(mark.at) > a.idempotencyWindow {
			delete(a.paid, id)
		}
	}
	if mark, ok := a.paid[billingID]; ok && mark.amount >= amount {
		return
	}
	a.paid[billingID] = paidMark{amount: amount, at: now}
}

func (a *Aggregator) updateOutstandingBalance(ctx context.Context) {
	if a.data == nil {
		return
	}

	lctx, cancel := a.lookupContext(ctx)
	defer cancel()

	balance, err := a.data.OutstandingBalance(lctx)
	if err != nil {
		logrus.WithError(err).Warn("Failed to refresh outstanding balance")
		return
	}

	event := model.NewMetricEvent(MetricOutstandingBalance, MetricOutstandingBalance, balance, "$", model.CategoryFinancial, a.now())
	a.emit(event, false)
}

func (a *Aggregator) handlePatientChange(change model.Change) error {
	var next, prev model.Patient
	if err := change.DecodeNew(&next); err != nil {
		return a.dropMalformed(change, err)
	}
	if err := change.DecodeOld(&prev); err != nil {
		return a.dropMalformed(change, err)
	}

	switch {
	case change.EventType == model.EventInsert:
		event := model.NewMetricEvent("new_patient_"+next.ID, MetricNewPatient, 1, "", model.CategoryPatient, a.now())
		if a.emit(event, true) {
			a.recompute(RuleNewPatientRegistrations)
		}
	case change.EventType == model.EventUpdate && next.Status == model.PatientActive && prev.Status == model.PatientInactive:
		event := model.NewMetricEvent("reactivation_"+next.ID, MetricPatientReactivated, 1, "", model.CategoryPatient, a.now())
		a.emit(event, true)
	}
	return nil
}

func (a *Aggregator) handleOperatoryChange(ctx context.Context) error {
	if a.data == nil {
		return nil
	}

	lctx, cancel := a.lookupContext(ctx)
	defer cancel()

	utilization, err := a.data.ChairUtilization(lctx)
	if err != nil {
		return fmt.Errorf("chair utilization: %w", err)
	}

	event := model.NewMetricEvent(MetricChairUtilization, MetricChairUtilization, utilization, "%", model.CategoryOperational, a.now())
	if a.emit(event, false) {
		a.recompute(RuleChairOccupancy)
	}
	return nil
}

// emit records an event from a handler and reports whether it was stored.
// Stopped, invalid and duplicate events are dropped without error.
func (a *Aggregator) emit(event model.MetricEvent, once bool) bool {
	ok, err := a.record(event, once)
	switch {
	case err == nil:
		return ok
	case errors.Is(err, ErrStopped):
		return false
	case errors.Is(err, validation.ErrInvalidEvent):
		logrus.WithFields(logrus.Fields{
			"id":    event.ID,
			"error": err,
		}).Warn("Dropped invalid metric event")
		return false
	default:
		logrus.WithError(err).Error("Failed to record metric event")
		return false
	}
}

// dropMalformed logs a change whose row image cannot be decoded. Redelivery
// would fail the same way, so the change is acknowledged.
func (a *Aggregator) dropMalformed(change model.Change, err error) error {
	a.metrics.EventDropped("malformed")
	logrus.WithFields(logrus.Fields{
		"table": change.Table,
		"event": change.EventType,
		"error": err,
	}).Warn("Dropping malformed change")
	return nil
}
