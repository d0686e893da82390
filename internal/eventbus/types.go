package eventbus

// Event types published by the refresh coordinator.
const (
	RefreshRegistered = "refresh.registered"
	RefreshArmed      = "refresh.armed"
	RefreshArmFailed  = "refresh.arm_failed"
	RefreshStarted    = "refresh.started"
	RefreshExpired    = "refresh.expired"
	RefreshCompleted  = "refresh.completed"

	NotificationDispatched = "notification.dispatched"
	NotificationDelivered  = "notification.delivered"
	NotificationPresented  = "notification.presented"
	NotificationDropped    = "notification.dropped"

	PermissionResolved = "permission.resolved"
)

// Publish is a nil-safe helper for components constructed without a bus.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Data: data})
}
