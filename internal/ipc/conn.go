package ipc

import (
	"net"

	"github.com/someip-go/routingd/internal/someip"
)

// conn is one accepted host/guest connection: the command reader/writer
// framing the raw net.Conn, and the credentials the transport supplied
// (if any). It implements routing.GuestChannel so a routing.Hub can
// deliver commands back to the guest without knowing anything about
// sockets. Closing happens through writer.Close, which closes the
// underlying net.Conn it was built from.
type conn struct {
	reader *CommandReader
	writer *CommandWriter

	client someip.ClientID
	uid    uint32
	gid    uint32
	pid    int32

	hasCreds bool
}

func newConn(raw net.Conn, maxPayload int) *conn {
	return &conn{
		reader: NewCommandReader(raw, maxPayload),
		writer: NewCommandWriter(raw),
	}
}

// DeliverCommand implements routing.GuestChannel.
func (c *conn) DeliverCommand(id uint8, payload []byte) error {
	return c.writer.Send(CommandID(id), uint16(c.client), payload, true)
}

func (c *conn) close() error {
	return c.writer.Close()
}
