// Package discord implements the meeting connector on top of a Discord
// voice channel: opus packets from the voice gateway are decoded to PCM
// frames, and SSRC speaking updates become speaker hints.
package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/audio"
	"github.com/user/meetscribe/internal/connector"
)

const frameDuration = 20 * time.Millisecond // discord opus frame cadence

type Connector struct {
	session   *discordgo.Session
	guildID   string
	channelID string

	reconnectGrace    time.Duration
	reconnectAttempts int

	decoder audio.Decoder

	// voiceConn is replaced on rejoin while Leave may read it from another
	// goroutine; both go through the mutex.
	voiceConn *discordgo.VoiceConnection

	frames chan *audio.Frame
	events chan connector.Event
	seq    uint64

	speakerMap map[uint32]string
	speakerMux sync.RWMutex

	leaving bool
	mutex   sync.Mutex
}

func New(session *discordgo.Session, guildID, channelID string, decoder audio.Decoder, reconnectGrace time.Duration) *Connector {
	return &Connector{
		session:           session,
		guildID:           guildID,
		channelID:         channelID,
		decoder:           decoder,
		reconnectGrace:    reconnectGrace,
		reconnectAttempts: 3,
		frames:            make(chan *audio.Frame, 64),
		events:            make(chan connector.Event, 8),
		speakerMap:        make(map[uint32]string),
	}
}

func (c *Connector) Join(ctx context.Context) error {
	// mute false, deaf false: the bot must receive audio to transcribe it.
	voiceConn, err := c.session.ChannelVoiceJoin(c.guildID, c.channelID, false, false)
	if err != nil {
		return fmt.Errorf("failed to join voice channel: %w", err)
	}
	c.setVoiceConn(voiceConn)

	// Speaking updates carry the SSRC-to-user mapping; the handler must be
	// registered before audio starts flowing.
	voiceConn.AddHandler(c.handleSpeakingUpdate)

	for !voiceConn.Ready {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := voiceConn.Speaking(false); err != nil {
		log.Warn().Err(err).Msg("Failed to send initial speaking state")
	}

	go c.receiveLoop()

	log.Info().
		Str("guild_id", c.guildID).
		Str("channel_id", c.channelID).
		Msg("Joined voice channel")

	return nil
}

func (c *Connector) receiveLoop() {
	for {
		packet, ok := <-c.currentVoiceConn().OpusRecv
		if !ok {
			if c.isLeaving() {
				c.emit(connector.Event{Kind: connector.EventStreamEnded, At: time.Now()})
				close(c.frames)
				close(c.events)
				return
			}
			c.emit(connector.Event{Kind: connector.EventDisconnected, At: time.Now()})
			if c.rejoin() {
				c.emit(connector.Event{Kind: connector.EventReconnected, At: time.Now()})
				continue
			}
			c.emit(connector.Event{
				Kind: connector.EventFatal,
				At:   time.Now(),
				Err:  fmt.Errorf("voice connection lost and rejoin failed"),
			})
			close(c.frames)
			close(c.events)
			return
		}
		c.handlePacket(packet)
	}
}

func (c *Connector) handlePacket(packet *discordgo.Packet) {
	pcm, err := c.decoder.Decode(packet.Opus)
	if err != nil {
		log.Warn().
			Uint32("ssrc", packet.SSRC).
			Err(err).
			Msg("Failed to decode opus packet")
		return
	}

	c.seq++
	frame := &audio.Frame{
		Seq:      c.seq,
		PCM:      pcm,
		Captured: time.Now(),
		Duration: frameDuration,
		Speakers: c.speakersFor(packet.SSRC),
	}

	c.frames <- frame
}

// rejoin attempts to restore the voice connection after an unexpected drop,
// waiting out the reconnect grace between attempts.
func (c *Connector) rejoin() bool {
	for attempt := 1; attempt <= c.reconnectAttempts; attempt++ {
		if c.isLeaving() {
			return false
		}
		time.Sleep(c.reconnectGrace)

		voiceConn, err := c.session.ChannelVoiceJoin(c.guildID, c.channelID, false, false)
		if err != nil {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Msg("Voice rejoin attempt failed")
			continue
		}
		voiceConn.AddHandler(c.handleSpeakingUpdate)
		c.setVoiceConn(voiceConn)
		log.Info().Int("attempt", attempt).Msg("Voice connection restored")
		return true
	}
	return false
}

func (c *Connector) handleSpeakingUpdate(vc *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	if su == nil || !su.Speaking {
		return
	}
	c.speakerMux.Lock()
	c.speakerMap[uint32(su.SSRC)] = su.UserID
	c.speakerMux.Unlock()

	log.Debug().
		Uint32("ssrc", uint32(su.SSRC)).
		Str("user_id", su.UserID).
		Msg("Mapped SSRC to user")
}

func (c *Connector) speakersFor(ssrc uint32) []string {
	c.speakerMux.RLock()
	defer c.speakerMux.RUnlock()
	if user, ok := c.speakerMap[ssrc]; ok {
		return []string{user}
	}
	return nil
}

func (c *Connector) emit(e connector.Event) {
	select {
	case c.events <- e:
	default:
		log.Warn().Str("kind", e.Kind.String()).Msg("Connector event channel full, dropping event")
	}
}

func (c *Connector) isLeaving() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.leaving
}

func (c *Connector) setVoiceConn(vc *discordgo.VoiceConnection) {
	c.mutex.Lock()
	c.voiceConn = vc
	c.mutex.Unlock()
}

func (c *Connector) currentVoiceConn() *discordgo.VoiceConnection {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.voiceConn
}

func (c *Connector) Leave() error {
	c.mutex.Lock()
	if c.leaving {
		c.mutex.Unlock()
		return nil
	}
	c.leaving = true
	vc := c.voiceConn
	c.mutex.Unlock()

	if vc != nil {
		return vc.Disconnect()
	}
	return nil
}

func (c *Connector) Frames() <-chan *audio.Frame {
	return c.frames
}

func (c *Connector) Events() <-chan connector.Event {
	return c.events
}
