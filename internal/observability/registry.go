package observability

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Registry manages a collection of observability hooks.
// It dispatches events synchronously and recovers from hook panics. A nil Registry is a no-op.
type Registry struct {
	paymentHooks      []PaymentHook
	notificationHooks []NotificationHook
	logger            zerolog.Logger
	mu                sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
	}
}

// RegisterPaymentHook adds a payment hook to the registry.
func (r *Registry) RegisterPaymentHook(hook PaymentHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paymentHooks = append(r.paymentHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("observability.payment_hook_registered")
}

// RegisterNotificationHook adds a notification hook to the registry.
func (r *Registry) RegisterNotificationHook(hook NotificationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notificationHooks = append(r.notificationHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("observability.notification_hook_registered")
}

// Register adds hook under every hook interface it implements and reports whether it matched any.
func (r *Registry) Register(hook Hook) bool {
	matched := false
	if h, ok := hook.(PaymentHook); ok {
		r.RegisterPaymentHook(h)
		matched = true
	}
	if h, ok := hook.(NotificationHook); ok {
		r.RegisterNotificationHook(h)
		matched = true
	}
	return matched
}

// HookCount returns the number of registered hooks per kind.
func (r *Registry) HookCount() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"payment":      len(r.paymentHooks),
		"notification": len(r.notificationHooks),
	}
}

// ===============================================
// Payment Hook Dispatchers
// ===============================================

// EmitSessionStarted dispatches the event to all payment hooks.
func (r *Registry) EmitSessionStarted(ctx context.Context, event SessionStartedEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.paymentHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnSessionStarted", hook.Name())
			hook.OnSessionStarted(ctx, event)
		}()
	}
}

// EmitSessionFinished dispatches the event to all payment hooks.
func (r *Registry) EmitSessionFinished(ctx context.Context, event SessionFinishedEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.paymentHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnSessionFinished", hook.Name())
			hook.OnSessionFinished(ctx, event)
		}()
	}
}

// ===============================================
// Notification Hook Dispatchers
// ===============================================

// EmitNotificationDelivered dispatches the event to all notification hooks.
func (r *Registry) EmitNotificationDelivered(ctx context.Context, event NotificationDeliveredEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.notificationHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnNotificationDelivered", hook.Name())
			hook.OnNotificationDelivered(ctx, event)
		}()
	}
}

// EmitNotificationFailed dispatches the event to all notification hooks.
func (r *Registry) EmitNotificationFailed(ctx context.Context, event NotificationFailedEvent) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := r.notificationHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnNotificationFailed", hook.Name())
			hook.OnNotificationFailed(ctx, event)
		}()
	}
}

// recoverPanic keeps one bad hook from taking down the caller.
func (r *Registry) recoverPanic(method, hookName string) {
	if err := recover(); err != nil {
		r.logger.Error().
			Str("hook", hookName).
			Str("method", method).
			Interface("panic", err).
			Msg("observability.hook_panicked")
	}
}
