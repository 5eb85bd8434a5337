// Package notifier delivers exactly-once threshold alerts. Triggers arrive
// over a buffered channel from the ledger's commit path; delivery writes an
// idempotency marker, an admin-panel notification, and a user email.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IshanKhanpara/tokenguard1/internal/ledger"
	"github.com/IshanKhanpara/tokenguard1/internal/mail"
	"github.com/IshanKhanpara/tokenguard1/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// eventBuffer sizes the trigger queue. Triggers beyond a full queue are
// dropped with a warning; the marker table keeps delivery exactly-once, not
// the channel.
const eventBuffer = 64

// deliverTimeout bounds one delivery attempt end to end.
const deliverTimeout = 15 * time.Second

// Event is one threshold crossing to deliver.
type Event struct {
	UserID        uint64
	CurrentTokens int64
	MaxTokens     int64
	Threshold     int
}

// Notifier owns alert delivery and its idempotency state.
type Notifier struct {
	db           *gorm.DB
	mailer       mail.Mailer
	nowFn        func() time.Time
	supportEmail string
	events       chan Event
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithNow overrides the clock, for tests exercising month boundaries.
func WithNow(nowFn func() time.Time) Option {
	return func(n *Notifier) { n.nowFn = nowFn }
}

// WithSupportEmail sets the contact address shown in alert emails.
func WithSupportEmail(address string) Option {
	return func(n *Notifier) { n.supportEmail = address }
}

// New constructs a Notifier. A nil mailer downgrades to log-only delivery.
func New(db *gorm.DB, mailer mail.Mailer, opts ...Option) *Notifier {
	if mailer == nil {
		mailer = mail.LogMailer{}
	}
	n := &Notifier{
		db:     db,
		mailer: mailer,
		nowFn:  time.Now,
		events: make(chan Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Start launches the delivery worker. It drains the trigger queue until ctx
// is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-n.events:
				deliverCtx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
				if errNotify := n.Notify(deliverCtx, event); errNotify != nil {
					log.WithError(errNotify).WithFields(log.Fields{
						"user_id":   event.UserID,
						"threshold": event.Threshold,
					}).Error("notifier: alert delivery failed")
				}
				cancel()
			}
		}
	}()
}

// Trigger enqueues a threshold crossing. Non-blocking: when the queue is
// full the event is dropped and logged. Implements ledger.AlertTrigger.
func (n *Notifier) Trigger(userID uint64, currentTokens, maxTokens int64, threshold int) {
	event := Event{
		UserID:        userID,
		CurrentTokens: currentTokens,
		MaxTokens:     maxTokens,
		Threshold:     threshold,
	}
	select {
	case n.events <- event:
	default:
		log.WithFields(log.Fields{
			"user_id":   userID,
			"threshold": threshold,
		}).Warn("notifier: trigger queue full, event dropped")
	}
}

// Notify performs one idempotent delivery. The spending_alerts unique index
// is the sole exactly-once boundary: whichever caller inserts the marker
// first delivers, every other caller no-ops. Email and admin-feed failures
// are logged but never undo the marker.
func (n *Notifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.db == nil {
		return fmt.Errorf("notifier: not initialized")
	}
	if event.UserID == 0 {
		return fmt.Errorf("notifier: missing user id")
	}

	monthYear := ledger.MonthKey(n.nowFn())

	var existing models.SpendingAlert
	errFind := n.db.WithContext(ctx).
		Where("user_id = ? AND month_year = ? AND threshold = ?", event.UserID, monthYear, event.Threshold).
		Take(&existing).Error
	if errFind == nil {
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("notifier: marker lookup: %w", errFind)
	}

	marker := models.SpendingAlert{
		UserID:    event.UserID,
		MonthYear: monthYear,
		Threshold: event.Threshold,
	}
	if errCreate := n.db.WithContext(ctx).Create(&marker).Error; errCreate != nil {
		if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			// Lost the race to a concurrent trigger; the winner delivers.
			return nil
		}
		return fmt.Errorf("notifier: insert marker: %w", errCreate)
	}

	n.recordAdminNotification(ctx, event)
	n.sendEmail(ctx, event)
	return nil
}

// recordAdminNotification appends the event to the admin-panel feed.
func (n *Notifier) recordAdminNotification(ctx context.Context, event Event) {
	notificationType := models.NotificationUsageWarning
	title := "Usage warning"
	message := fmt.Sprintf("User %d has used %d%% of their monthly token limit", event.UserID, event.Threshold)
	if event.Threshold >= ledger.ThresholdLimit {
		notificationType = models.NotificationUsageLimitReached
		title = "Usage limit reached"
		message = fmt.Sprintf("User %d has reached their monthly token limit", event.UserID)
	}

	data, errMarshal := json.Marshal(map[string]any{
		"user_id":        event.UserID,
		"current_tokens": event.CurrentTokens,
		"max_tokens":     event.MaxTokens,
		"threshold":      event.Threshold,
	})
	if errMarshal != nil {
		log.WithError(errMarshal).Warn("notifier: marshal notification payload failed")
		data = nil
	}

	row := models.AdminNotification{
		Type:    notificationType,
		Title:   title,
		Message: message,
		Data:    datatypes.JSON(data),
	}
	if errCreate := n.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("user_id", event.UserID).Warn("notifier: admin notification insert failed")
	}
}

// sendEmail dispatches the user-facing alert. Best-effort.
func (n *Notifier) sendEmail(ctx context.Context, event Event) {
	var user models.User
	if errFind := n.db.WithContext(ctx).Take(&user, event.UserID).Error; errFind != nil {
		log.WithError(errFind).WithField("user_id", event.UserID).Warn("notifier: user lookup for email failed")
		return
	}

	msg := mail.Message{To: user.Email}
	if event.Threshold >= ledger.ThresholdLimit {
		msg.Subject = "Monthly token limit reached"
		msg.HTML = limitEmailHTML(user.FullName, event)
	} else {
		msg.Subject = fmt.Sprintf("You've used %d%% of your monthly token limit", event.Threshold)
		msg.HTML = warningEmailHTML(user.FullName, event)
	}
	if n.supportEmail != "" {
		msg.HTML += fmt.Sprintf(`
<p>Questions? Contact <a href="mailto:%s">%s</a>.</p>`, n.supportEmail, n.supportEmail)
	}

	if errSend := n.mailer.Send(ctx, msg); errSend != nil {
		log.WithError(errSend).WithFields(log.Fields{
			"user_id":   event.UserID,
			"threshold": event.Threshold,
		}).Warn("notifier: alert email failed")
	}
}

func warningEmailHTML(name string, event Event) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(`<h2>Usage warning</h2>
<p>Hi %s,</p>
<p>You have used <strong>%d%%</strong> of your monthly token allowance
(%d of %d tokens).</p>
<p>When your limit is reached, further API calls will be rejected until the
next calendar month or a plan upgrade.</p>`,
		name, event.Threshold, event.CurrentTokens, event.MaxTokens)
}

func limitEmailHTML(name string, event Event) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(`<h2>Monthly limit reached</h2>
<p>Hi %s,</p>
<p>You have used all <strong>%d</strong> tokens of your monthly allowance.
API calls will be rejected until the next calendar month.</p>
<p>Upgrade your plan to restore access immediately.</p>`,
		name, event.MaxTokens)
}
