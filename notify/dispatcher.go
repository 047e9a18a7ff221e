package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"watchtower/core"
	"watchtower/metrics"
)

// urgencyTable maps statuses to alert urgency 1 (lowest) to 5 (highest).
var urgencyTable = map[core.Status]int{
	core.StatusCritical:  5,
	core.StatusUnhealthy: 4,
	core.StatusError:     4,
	core.StatusWarning:   3,
	core.StatusDegraded:  2,
	core.StatusHealthy:   1,
}

// UrgencyFor returns the alert urgency for a status. Unknown statuses map
// to urgency 4, same as unhealthy.
func UrgencyFor(status core.Status) int {
	if u, ok := urgencyTable[status]; ok {
		return u
	}
	return urgencyTable[core.StatusUnhealthy]
}

// Alert is a dispatch request. Key is the composite cooldown key, usually
// category+check+status or overall+status.
type Alert struct {
	Key      string
	Status   core.Status
	Subject  string
	Message  string
	Category string
	Metadata map[string]string
}

type alertState struct {
	lastSent   time.Time
	lastStatus core.Status
}

// Dispatcher sends alerts through the notifier while suppressing repeats
// of the same alert key within a per-urgency cooldown window. State is
// in-memory and bounded; evicting a key only means its next alert sends
// without suppression.
type Dispatcher struct {
	notifier  Notifier
	cooldowns map[int]time.Duration
	states    *lru.Cache[string, alertState]
	mu        sync.Mutex
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher with the given per-urgency cooldown
// table and a bound on tracked alert keys.
func NewDispatcher(notifier Notifier, cooldowns map[int]time.Duration, maxKeys int, logger *zap.SugaredLogger) (*Dispatcher, error) {
	if maxKeys <= 0 {
		maxKeys = 1024
	}
	states, err := lru.New[string, alertState](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert state cache: %w", err)
	}
	return &Dispatcher{
		notifier:  notifier,
		cooldowns: cooldowns,
		states:    states,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Dispatch sends the alert unless the same key fired within its urgency's
// cooldown window. Returns true when the alert was sent.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert) bool {
	urgency := UrgencyFor(alert.Status)

	d.mu.Lock()
	state, tracked := d.states.Get(alert.Key)
	if tracked && d.now().Sub(state.lastSent) < d.cooldowns[urgency] {
		d.states.Add(alert.Key, alertState{lastSent: state.lastSent, lastStatus: alert.Status})
		d.mu.Unlock()
		metrics.AlertsSuppressed.Inc()
		d.logger.Debugw("Alert suppressed by cooldown", "key", alert.Key, "urgency", urgency)
		return false
	}
	d.states.Add(alert.Key, alertState{lastSent: d.now(), lastStatus: alert.Status})
	d.mu.Unlock()

	d.send(ctx, alert, urgency)
	return true
}

// SendCritical bypasses the cooldown check entirely. The send is still
// recorded so follow-up non-critical alerts for the same key cool down.
func (d *Dispatcher) SendCritical(ctx context.Context, alert Alert) {
	d.mu.Lock()
	d.states.Add(alert.Key, alertState{lastSent: d.now(), lastStatus: alert.Status})
	d.mu.Unlock()

	d.send(ctx, alert, UrgencyFor(core.StatusCritical))
}

// EvaluateReport dispatches alerts for every non-healthy category in the
// report and recovery notifications for categories that returned to
// healthy after previously alerting as unhealthy or worse.
func (d *Dispatcher) EvaluateReport(ctx context.Context, report *core.HealthReport) {
	for _, cat := range report.Categories {
		key := fmt.Sprintf("category:%s", cat.Category)

		if cat.Status == core.StatusHealthy {
			d.maybeRecover(ctx, key, cat.Category)
			continue
		}

		alert := Alert{
			Key:      fmt.Sprintf("%s:%s", key, cat.Status),
			Status:   cat.Status,
			Subject:  fmt.Sprintf("[%s] %s is %s", report.Overall, cat.Category, cat.Status),
			Message:  report.Describe(),
			Category: cat.Category,
		}
		if cat.Status == core.StatusCritical {
			d.SendCritical(ctx, alert)
		} else {
			d.Dispatch(ctx, alert)
		}

		d.mu.Lock()
		d.rememberStatus(key, cat.Status)
		d.mu.Unlock()
	}
}

// maybeRecover sends a recovery notification when the category previously
// alerted at unhealthy or worse.
func (d *Dispatcher) maybeRecover(ctx context.Context, key, category string) {
	d.mu.Lock()
	state, tracked := d.states.Get(key)
	recovered := tracked && state.lastStatus.Rank() >= core.StatusUnhealthy.Rank()
	d.rememberStatus(key, core.StatusHealthy)
	d.mu.Unlock()

	if !recovered {
		return
	}

	d.send(ctx, Alert{
		Key:      key,
		Status:   core.StatusHealthy,
		Subject:  fmt.Sprintf("[recovered] %s is healthy again", category),
		Message:  fmt.Sprintf("Category %s returned to healthy after %s.", category, state.lastStatus),
		Category: category,
	}, UrgencyFor(core.StatusHealthy))
}

// rememberStatus updates the tracked status for a key without touching its
// cooldown clock. Callers hold the mutex.
func (d *Dispatcher) rememberStatus(key string, status core.Status) {
	state, _ := d.states.Get(key)
	state.lastStatus = status
	d.states.Add(key, state)
}

func (d *Dispatcher) send(ctx context.Context, alert Alert, urgency int) {
	channels, err := d.notifier.Send(ctx, Notification{
		Subject:  alert.Subject,
		Message:  alert.Message,
		Urgency:  urgency,
		Category: alert.Category,
		Metadata: alert.Metadata,
	})
	if err != nil {
		d.logger.Errorw("Alert delivery failed", "key", alert.Key, "urgency", urgency, "error", err)
	}
	metrics.AlertsSent.WithLabelValues(strconv.Itoa(urgency)).Inc()
	d.logger.Infow("Alert dispatched", "key", alert.Key, "urgency", urgency, "channels", channels)
}
