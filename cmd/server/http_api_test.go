package main

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/types"
	"github.com/awehttam/walkie-talkie-html5-sub000/pkg/protocol"
)

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s returned %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s response: %v", url, err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var body map[string]string
	getJSON(t, ts.URL+"/health", &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestStatsAndChannelsEndpoints(t *testing.T) {
	_, ts := newTestServer(t, nil)

	c1 := dialClient(t, ts)
	c2 := dialClient(t, ts)
	identifyAndJoin(t, c1, "alice", "7")
	identifyAndJoin(t, c2, "bob", "7")
	writeMsg(t, c1, types.ClientMessage{Type: protocol.TypePTTStart, Channel: "7"})
	readUntil(t, c2, protocol.TypeUserSpeaking)

	var stats types.ServerStats
	getJSON(t, ts.URL+"/api/stats", &stats)
	if stats.Connections != 2 || stats.Identified != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Channels != 1 || stats.ActiveSpeakers != 1 {
		t.Fatalf("unexpected channel/speaker stats %+v", stats)
	}

	var listing struct {
		Channels []types.ChannelInfo `json:"channels"`
	}
	getJSON(t, ts.URL+"/api/channels", &listing)
	if len(listing.Channels) != 1 {
		t.Fatalf("expected one channel, got %+v", listing.Channels)
	}
	ch := listing.Channels[0]
	if ch.Channel != "7" || ch.Participants != 2 || !ch.Speaking {
		t.Fatalf("unexpected channel info %+v", ch)
	}
}
