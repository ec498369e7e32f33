package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// StreamMessage is one server-sent event. It only names the topic that changed.
type StreamMessage struct {
	Topic string    `json:"topic"`
	At    time.Time `json:"at"`
}

// HeartbeatInterval is how often an idle stream sends a comment line.
var HeartbeatInterval = 15 * time.Second

// StreamHandler relays change notifications for topics to the client as
// server-sent events until the request context ends. Slow clients drop
// notifications rather than block publishers.
func StreamHandler(bus Bus, topics ...string) echo.HandlerFunc {
	return func(c echo.Context) error {
		w := c.Response()
		flusher, ok := w.Writer.(http.Flusher)
		if !ok {
			return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
		}

		outbound := make(chan StreamMessage, 16)
		for _, topic := range topics {
			topic := topic
			unsub := bus.Subscribe(topic, func() {
				select {
				case outbound <- StreamMessage{Topic: topic, At: time.Now().UTC()}:
				default:
				}
			})
			defer unsub()
		}

		h := w.Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		heartbeat := time.NewTicker(HeartbeatInterval)
		defer heartbeat.Stop()

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case msg := <-outbound:
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Topic, data)
				flusher.Flush()
			}
		}
	}
}
