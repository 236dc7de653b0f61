package protocol

import (
	"fmt"

	"github.com/pixil98/hc/internal/session"
	"github.com/pixil98/hc/internal/wire"
)

// ChannelMessage is the decoded in-zone chat packet: a tell target
// (meaningful only for ChanTell), sender, channel tag, and text.
type ChannelMessage struct {
	Target  string
	From    string
	Channel uint32
	Skill   uint32
	Text    string
}

// DecodeChannelMessage parses an incoming OpChannelMessage payload. Layout:
// target:cstring(64), sender:cstring(64), language:u32, channel:u32,
// unknown[8], skill:u32, then text:cstring to end of frame.
func DecodeChannelMessage(payload []byte) (ChannelMessage, error) {
	r := wire.NewReader(payload)

	target, err := r.FixedStringAt(0, 64)
	if err != nil {
		return ChannelMessage{}, fmt.Errorf("%w: reading ChannelMessage target: %v", ErrProtocol, err)
	}
	from, err := r.FixedStringAt(64, 64)
	if err != nil {
		return ChannelMessage{}, fmt.Errorf("%w: reading ChannelMessage sender: %v", ErrProtocol, err)
	}
	channel, err := r.U32At(132)
	if err != nil {
		return ChannelMessage{}, fmt.Errorf("%w: reading ChannelMessage channel: %v", ErrProtocol, err)
	}
	skill, err := r.U32At(144)
	if err != nil {
		return ChannelMessage{}, fmt.Errorf("%w: reading ChannelMessage skill: %v", ErrProtocol, err)
	}
	text, err := r.CStringAt(148)
	if err != nil {
		return ChannelMessage{}, fmt.Errorf("%w: reading ChannelMessage text: %v", ErrProtocol, err)
	}

	return ChannelMessage{Target: target, From: from, Channel: channel, Skill: skill, Text: text}, nil
}

// channelMessageSkill is the fixed skill value (100, the "fishing" no-op
// skill id) real clients stamp on every outgoing chat message.
const channelMessageSkill = 100

// EncodeChannelMessage builds an outgoing chat packet for the given
// channel, mirroring DecodeChannelMessage's layout so a loopback test can
// round-trip it. The sender field is left blank; the server fills it in
// from the sending connection's character.
func EncodeChannelMessage(target string, channel uint32, text string) []byte {
	w := wire.NewFixedWriter(148)
	w.PutFixedStringAt(0, 64, target)
	w.PutU32At(132, channel)
	w.PutU32At(144, channelMessageSkill)
	w.PutCString(text)
	return w.Bytes()
}

// SendChannelMessage queues an outgoing chat message on sess; the
// say/tell/shout/ooc/auction/emote CLI commands all funnel through this.
func SendChannelMessage(sess session.Session, to string, channel uint32, text string) error {
	payload := EncodeChannelMessage(to, channel, text)
	if err := sess.QueuePacket(session.Packet{Opcode: OpChannelMessage, Payload: payload}, 0, true); err != nil {
		return fmt.Errorf("sending ChannelMessage: %w", err)
	}
	return nil
}
