package client

import (
	"log"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/types"
)

// Handler receives server events. Implement the callbacks you care about or
// embed DefaultHandler.
type Handler interface {
	OnAuthRequired()
	OnIdentified(id types.Identity)
	OnChannelJoined(channel string, participants int)
	OnParticipantJoined(channel, screenName string, participants int)
	OnParticipantLeft(channel, screenName string, participants int)
	OnUserSpeaking(channel, screenName string, speaking bool)
	OnAudio(channel, screenName string, pcm []byte, format string, sampleRate int)
	OnHistory(channel string, messages []types.HistoryMessage)
	OnError(code, message string)
	OnServerMessage(msg types.ServerMessage)
	OnDisconnected(err error)
}

// DefaultHandler logs every event; embed it to override selectively.
type DefaultHandler struct{}

func (h *DefaultHandler) OnAuthRequired() { log.Printf("server requests identification") }
func (h *DefaultHandler) OnIdentified(id types.Identity) {
	log.Printf("identified as %s", id.ScreenName)
}
func (h *DefaultHandler) OnChannelJoined(channel string, participants int) {
	log.Printf("joined channel %s (%d participants)", channel, participants)
}
func (h *DefaultHandler) OnParticipantJoined(channel, screenName string, participants int) {
	log.Printf("%s joined %s (%d participants)", screenName, channel, participants)
}
func (h *DefaultHandler) OnParticipantLeft(channel, screenName string, participants int) {
	log.Printf("%s left %s (%d participants)", screenName, channel, participants)
}
func (h *DefaultHandler) OnUserSpeaking(channel, screenName string, speaking bool) {
	if speaking {
		log.Printf("%s started talking on %s", screenName, channel)
	} else {
		log.Printf("%s stopped talking on %s", screenName, channel)
	}
}
func (h *DefaultHandler) OnAudio(channel, screenName string, pcm []byte, format string, sampleRate int) {
	log.Printf("audio from %s on %s: %d bytes %s@%d", screenName, channel, len(pcm), format, sampleRate)
}
func (h *DefaultHandler) OnHistory(channel string, messages []types.HistoryMessage) {
	log.Printf("history for %s: %d messages", channel, len(messages))
}
func (h *DefaultHandler) OnError(code, message string) {
	log.Printf("server error [%s]: %s", code, message)
}
func (h *DefaultHandler) OnServerMessage(msg types.ServerMessage) {
	log.Printf("event: %s", msg.Type)
}
func (h *DefaultHandler) OnDisconnected(err error) {
	log.Printf("disconnected: %v", err)
}
