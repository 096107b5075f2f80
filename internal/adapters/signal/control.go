package signal

import (
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// keepalive arms the read side: the peer must answer pings within pongWait.
func (ctl *SignalWSController) keepalive(c *WsSignalConn) {
	pongWait := ctl.pingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (ctl *SignalWSController) ping(c *WsSignalConn) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
