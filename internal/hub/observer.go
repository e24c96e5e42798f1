package hub

import (
	"fmt"
	"log"
	"time"
)

// Observer receives one-way notifications from rooms and players. Delivery is
// best effort. Observers are compared by identity, so implementations must be
// comparable (typically pointers) and safe for concurrent use.
type Observer interface {
	ReceiveMessage(text string)
	ReceiveNotification(text string)
}

// PrivateObserver is implemented by observers that want whispers separately.
// Others receive them as notifications.
type PrivateObserver interface {
	Observer
	ReceivePrivate(fromID, fromName, text string)
}

type PlayerInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	JoinedAt    time.Time `json:"joined_at"`
	Online      bool      `json:"online"`
	Level       int       `json:"level,omitempty"`
	JoinedRooms []string  `json:"joined_rooms,omitempty"`
}

// deliver invokes fn and swallows an observer panic.
func deliver(logger *log.Logger, who string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("%s: observer panic: %v", who, r)
		}
	}()
	fn()
}

func deliverPrivate(logger *log.Logger, who string, obs Observer, fromID, fromName, text string) {
	deliver(logger, who, func() {
		if po, ok := obs.(PrivateObserver); ok {
			po.ReceivePrivate(fromID, fromName, text)
			return
		}
		obs.ReceiveNotification(fmt.Sprintf("[private] %s: %s", fromName, text))
	})
}
