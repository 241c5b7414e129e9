// Package telephony controls live calls: transferring the SIP caller and
// tearing down the room that carries the call.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"
)

// Connector is the telephony control collaborator.
type Connector interface {
	// TransferParticipant moves a SIP participant to destination
	// (a "tel:" or "sip:" URI).
	TransferParticipant(ctx context.Context, room, identity, destination string) error

	// DeleteRoom ends the call for every participant.
	DeleteRoom(ctx context.Context, room string) error
}

var (
	ErrNoDestination = errors.New("telephony: no transfer destination")
	ErrNoParticipant = errors.New("telephony: no participant")
	// ErrNotSIP means the participant is not on a SIP leg, so there is no
	// call to transfer.
	ErrNotSIP = errors.New("telephony: participant has no sip session")
)

// TelURI turns a phone number into a tel: URI. Values that already carry a
// scheme are returned unchanged.
func TelURI(number string) string {
	number = strings.TrimSpace(number)
	if number == "" || strings.HasPrefix(number, "tel:") || strings.HasPrefix(number, "sip:") {
		return number
	}
	return "tel:" + number
}

// LiveKit implements Connector with the LiveKit server APIs.
type LiveKit struct {
	sip    *lksdk.SIPClient
	rooms  *lksdk.RoomServiceClient
	logger *slog.Logger
}

// NewLiveKit creates a connector for the LiveKit deployment at url.
func NewLiveKit(url, apiKey, apiSecret string, logger *slog.Logger) *LiveKit {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveKit{
		sip:    lksdk.NewSIPClient(url, apiKey, apiSecret),
		rooms:  lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
		logger: logger.With("component", "telephony.livekit"),
	}
}

// TransferParticipant implements Connector.
func (l *LiveKit) TransferParticipant(ctx context.Context, room, identity, destination string) error {
	if identity == "" {
		return ErrNoParticipant
	}
	if destination == "" {
		return ErrNoDestination
	}
	l.logger.Info("transferring participant", "room", room, "participant", identity, "to", destination)
	_, err := l.sip.TransferSIPParticipant(ctx, &livekit.TransferSIPParticipantRequest{
		RoomName:            room,
		ParticipantIdentity: identity,
		TransferTo:          destination,
	})
	if err != nil {
		return transferError(err)
	}
	return nil
}

func transferError(err error) error {
	var terr twirp.Error
	if errors.As(err, &terr) && terr.Code() == twirp.FailedPrecondition {
		return fmt.Errorf("%w: %s", ErrNotSIP, terr.Msg())
	}
	return fmt.Errorf("transfer sip participant: %w", err)
}

// DeleteRoom implements Connector.
func (l *LiveKit) DeleteRoom(ctx context.Context, room string) error {
	l.logger.Info("deleting room", "room", room)
	if _, err := l.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room}); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

var _ Connector = (*LiveKit)(nil)
