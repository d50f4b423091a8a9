package notifier

import (
	"net"
	"sync"
	"testing"
	"time"

	wsclient "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// dialTestHub serves a websocket endpoint that registers connections with the
// hub and returns a connected client.
func dialTestHub(t *testing.T, hub *Hub, userID uint) *wsclient.Conn {
	t.Helper()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		hub.Register(userID, c)
		defer hub.Unregister(userID, c)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	conn, _, err := wsclient.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Connections(userID) == 1 },
		2*time.Second, 10*time.Millisecond)
	return conn
}

func TestHubDeliversConcurrentPublishes(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	hub := NewHub(logger)

	conn := dialTestHub(t, hub, 7)

	// Many workers finishing jobs for one user publish to the same
	// connection at once; every frame must still arrive intact.
	const publishers = 8
	const perPublisher = 25

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				hub.Send(7, Envelope{
					Event:   "campaign:progress",
					Payload: map[string]interface{}{"sent": j},
					SentAt:  time.Now(),
				})
			}
		}()
	}
	wg.Wait()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for received := 0; received < publishers*perPublisher; received++ {
		var env Envelope
		require.NoError(t, conn.ReadJSON(&env), "frame %d", received)
		require.Equal(t, "campaign:progress", env.Event)
	}

	require.Equal(t, 1, hub.Connections(7), "no connection dropped by write errors")
}
