package ipc

import (
	"errors"
	"fmt"

	"github.com/someip-go/routingd/internal/routing"
	"github.com/someip-go/routingd/internal/someip"
)

// errFatalCommand wraps a dispatch error that should tear the connection
// down immediately (a command that cannot be answered without a
// registered guest).
var errFatalCommand = errors.New("ipc: fatal command error")

// dispatch handles one decoded command for connection c. credSource is
// the credential-extracting wrapper around c's socket, or nil when the
// transport carries no kernel-verified identity (TCP fallback).
// registered tracks whether ASSIGN_CLIENT has completed, so every other
// command can be rejected as fatal until it has.
func (s *Server) dispatch(c *conn, credSource *credConn, cmd Command, registered *bool) error {
	if cmd.Header.ID == CommandAssignClient {
		return s.handleAssignClient(c, credSource, cmd, registered)
	}

	if !*registered {
		return fmt.Errorf("%s before ASSIGN_CLIENT: %w", cmd.Header.ID, errFatalCommand)
	}

	switch cmd.Header.ID {
	case CommandRegisterApplication:
		return nil // name already captured at ASSIGN_CLIENT time.
	case CommandDeregisterApp:
		return fmt.Errorf("guest deregistered: %w", errFatalCommand)
	case CommandOfferService:
		return s.handleOfferService(c, cmd)
	case CommandStopOfferService:
		return s.handleStopOfferService(c, cmd)
	case CommandRequestService:
		return s.handleRequestService(c, cmd)
	case CommandReleaseService:
		return s.handleReleaseService(c, cmd)
	case CommandSubscribe:
		return s.handleSubscribe(c, cmd)
	case CommandUnsubscribe:
		return s.handleUnsubscribe(c, cmd)
	case CommandSendMessage:
		return s.handleSendMessage(c, cmd)
	default:
		return fmt.Errorf("unhandled command %s", cmd.Header.ID)
	}
}

func (s *Server) handleAssignClient(c *conn, credSource *credConn, cmd Command, registered *bool) error {
	req, err := DecodeAssignClientRequest(cmd.Payload)
	if err != nil {
		return fmt.Errorf("%w: %w", err, errFatalCommand)
	}

	hint := req.Hint
	if hint == someip.IllegalClient && s.NameHint != nil {
		hint = s.NameHint(req.Name)
	}

	uid, gid, pid := uint32(0), uint32(0), int32(0)
	if credSource != nil {
		if cred, ok := credSource.credentials(); ok {
			uid, gid, pid = cred.UID, cred.GID, cred.PID
		}
	}

	guest, err := s.hub.RegisterGuest(hint, pid, uid, gid, c)
	if err != nil {
		return fmt.Errorf("register guest: %w: %w", err, errFatalCommand)
	}

	c.client = guest.Client
	c.uid, c.gid, c.pid = uid, gid, pid
	c.hasCreds = credSource != nil
	*registered = true

	s.mu.Lock()
	s.conns[c.client] = c
	s.mu.Unlock()

	if err := c.writer.Send(CommandAssignClientAck, uint16(guest.Client), EncodeAssignClientAck(guest.Client), true); err != nil {
		return fmt.Errorf("send ASSIGN_CLIENT_ACK: %w: %w", err, errFatalCommand)
	}

	s.broadcastRoutingInfo()
	return nil
}

func (s *Server) handleOfferService(c *conn, cmd Command) error {
	si, err := DecodeServiceInstance(cmd.Payload)
	if err != nil {
		return err
	}

	status := AckOK
	if err := s.hub.OfferService(c.client, c.uid, c.gid, si.Service, si.Instance, si.Major, si.Minor); err != nil {
		status = ackStatusFor(err)
	} else {
		s.broadcastRoutingInfo()
	}
	return c.writer.Send(CommandOfferServiceAck, uint16(c.client), EncodeAck(status), true)
}

func (s *Server) handleStopOfferService(c *conn, cmd Command) error {
	si, err := DecodeServiceInstance(cmd.Payload)
	if err != nil {
		return err
	}
	s.hub.StopOfferService(c.client, si.Service, si.Instance)
	s.broadcastRoutingInfo()
	return nil
}

func (s *Server) handleRequestService(c *conn, cmd Command) error {
	si, err := DecodeServiceInstance(cmd.Payload)
	if err != nil {
		return err
	}

	available, err := s.hub.RequestService(c.client, c.uid, c.gid, si.Service, si.Instance)
	status := AckOK
	if err != nil {
		status = ackStatusFor(err)
	}
	if err := c.writer.Send(CommandRequestServiceAck, uint16(c.client), EncodeAck(status), true); err != nil {
		return err
	}
	if err == nil && available {
		s.broadcastRoutingInfo()
	}
	return nil
}

func (s *Server) handleReleaseService(c *conn, cmd Command) error {
	si, err := DecodeServiceInstance(cmd.Payload)
	if err != nil {
		return err
	}
	s.hub.ReleaseService(c.client, si.Service, si.Instance)
	return nil
}

func (s *Server) handleSubscribe(c *conn, cmd Command) error {
	req, err := DecodeSubscribeRequest(cmd.Payload)
	if err != nil {
		return err
	}

	ackCmd := CommandSubscribeAck
	if err := s.hub.Subscribe(c.client, c.uid, c.gid, req.Service, req.Instance, req.Eventgroup, req.Major, req.TTL); err != nil {
		ackCmd = CommandSubscribeNack
	}
	ack := EncodeSubscribeAck(SubscribeAckPayload{Service: req.Service, Instance: req.Instance, Eventgroup: req.Eventgroup})
	return c.writer.Send(ackCmd, uint16(c.client), ack, true)
}

func (s *Server) handleUnsubscribe(c *conn, cmd Command) error {
	req, err := DecodeSubscribeRequest(cmd.Payload)
	if err != nil {
		return err
	}
	s.hub.Unsubscribe(c.client, req.Service, req.Instance, req.Eventgroup)
	return nil
}

func (s *Server) handleSendMessage(c *conn, cmd Command) error {
	frame, uid, gid, err := DecodeSendMessage(cmd.Payload, c.hasCreds)
	if err != nil {
		return err
	}
	if !c.hasCreds {
		uid, gid = c.uid, c.gid
	}

	msg, _, err := someip.DecodeMessage(frame, true)
	if err != nil {
		return fmt.Errorf("decode SEND_MESSAGE frame: %w", err)
	}

	instance, ok := s.instanceForSend(msg)
	if !ok {
		return fmt.Errorf("send message: %w", errNoResolvableInstance)
	}

	if msg.Type == someip.MessageTypeResponse || msg.Type == someip.MessageTypeError {
		if !s.hub.HandleResponse(msg.Service, instance, msg) {
			return fmt.Errorf("send message: unmatched response for client %d", msg.Client)
		}
		return s.hub.DeliverResponse(msg)
	}
	return s.hub.Relay(c.client, uid, gid, msg.Service, instance, msg)
}

var errNoResolvableInstance = errors.New("no resolvable instance for service")

// instanceForSend resolves the instance a guest's SEND_MESSAGE targets.
// A SOME/IP frame carries no instance field; this falls back to the same
// single-remote-instance resolution internal/routing.Hub.Demux uses for
// inbound traffic, since the common case is exactly one local or remote
// instance advertised for a given service.
func (s *Server) instanceForSend(msg *someip.Message) (someip.InstanceID, bool) {
	for _, o := range s.hub.Table().Offers() {
		if o.Service == msg.Service {
			return o.Instance, true
		}
	}
	return 0, false
}

func ackStatusFor(err error) AckStatus {
	switch {
	case errors.Is(err, routing.ErrPolicyDenied):
		return AckDenied
	case errors.Is(err, routing.ErrLocalOfferExists):
		return AckConflict
	case errors.Is(err, routing.ErrNoOfferer):
		return AckUnknownService
	default:
		return AckConflict
	}
}
