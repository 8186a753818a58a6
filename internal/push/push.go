package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/store"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Config holds VAPID configuration.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
}

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error
}

// Service handles sending web push notifications.
type Service struct {
	cfg        Config
	httpClient webpush.HTTPClient
}

// NewService creates a new push service with VAPID keys.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg, httpClient: http.DefaultClient}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// Send sends a push notification to a subscription.
func (s *Service) Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      s.httpClient,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		Subscriber:      s.cfg.Subscriber,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// GenerateVAPIDKeys generates a new P-256 key pair for VAPID, both
// base64url-encoded without padding.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}

// Notifier fans a payload out to every device a user has subscribed and
// prunes subscriptions the push service reports as gone.
type Notifier struct {
	sender Sender
	subs   *store.PushStore
	logger *slog.Logger
}

func NewNotifier(sender Sender, subs *store.PushStore, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, subs: subs, logger: logger}
}

// NotifyUser sends payload to each of the user's subscriptions and returns
// how many deliveries succeeded.
func (n *Notifier) NotifyUser(ctx context.Context, userID string, payload Payload) (int, error) {
	subs, err := n.subs.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	sent := 0
	for _, sub := range subs {
		if err := n.sender.Send(ctx, &sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if err := n.subs.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
					n.logger.Error("delete expired subscription", "user", userID, "error", err)
				}
				continue
			}
			n.logger.Warn("send push", "user", userID, "subscription", sub.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// NotifyCompletion announces a finished challenge and the points it earned.
func (n *Notifier) NotifyCompletion(ctx context.Context, userID, challengeID, title string, points int) {
	payload := Payload{
		Title: "Challenge complete! +" + fmt.Sprint(points) + " points",
		Body:  fmt.Sprintf("You finished %s. Nice work.", title),
		URL:   "/challenges/" + challengeID,
		Tag:   "challenge-complete-" + challengeID,
	}
	if _, err := n.NotifyUser(ctx, userID, payload); err != nil {
		n.logger.Error("completion notification", "user", userID, "challenge", challengeID, "error", err)
	}
}
