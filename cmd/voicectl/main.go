// voicectl is a headless voice-channel client for testing a room's voice
// mesh from a terminal. It joins the channel with a synthetic tone as the
// outbound stream, renders who is present and speaking, and leaves cleanly
// on Ctrl+C.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/JVHBO/vibefid-voice/internal/voice"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "voice backend base URL")
	room := flag.String("room", "", "room id to join")
	address := flag.String("address", "", "local identity address")
	username := flag.String("username", "", "display name")
	tone := flag.Float64("tone", 440, "outbound test tone frequency in Hz (0 = silence)")
	stun := flag.String("stun", "stun:stun.l.google.com:19302", "comma-separated STUN servers")
	flag.Parse()

	if *room == "" || *address == "" {
		fmt.Fprintln(os.Stderr, "usage: voicectl -room <id> -address <addr> [-username <name>]")
		os.Exit(1)
	}
	if *username == "" {
		*username = *address
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := voice.NewRelayClient(*server)
	session := voice.NewSession(voice.SessionConfig{
		RoomID:   *room,
		Address:  *address,
		Username: *username,
		Signaler: client,
		Roster:   client,
		Device:   &voice.ToneCaptureDevice{Frequency: *tone, Amplitude: 8000},
		Playback: voice.DiscardSink{},
		STUN:     strings.Split(*stun, ","),
		PushURL:  *server,
	})

	participants, err := client.Participants(ctx, *room)
	if err != nil {
		pterm.Error.Printfln("cannot reach voice backend: %v", err)
		os.Exit(1)
	}
	roster := make([]voice.Participant, 0, len(participants))
	for _, p := range participants {
		roster = append(roster, voice.Participant{Address: p.Address, Username: p.Username})
	}

	pterm.Info.Printfln("joining voice channel %s as %s", *room, *username)
	if err := session.JoinChannel(ctx, roster); err != nil {
		pterm.Error.Printfln("join failed: %v", err)
		os.Exit(1)
	}

	area, _ := pterm.DefaultArea.Start()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			area.Update(render(session.State()))
		}
	}

	area.Stop()
	pterm.Info.Println("leaving voice channel")

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.LeaveChannel(leaveCtx); err != nil {
		pterm.Warning.Printfln("leave incomplete: %v", err)
	}
}

func render(state voice.State) string {
	var b strings.Builder

	status := pterm.FgRed.Sprint("connecting")
	if state.IsConnected {
		status = pterm.FgGreen.Sprint("connected")
	}
	mic := "live"
	if state.IsMuted {
		mic = "muted"
	}
	fmt.Fprintf(&b, "voice: %s   mic: %s\n", status, mic)
	if state.Err != "" {
		fmt.Fprintf(&b, "%s\n", pterm.FgYellow.Sprint(state.Err))
	}

	if len(state.Users) == 0 {
		b.WriteString("nobody else is in voice\n")
		return b.String()
	}
	for _, u := range state.Users {
		indicator := "  "
		if u.Speaking {
			indicator = pterm.FgGreen.Sprint("» ")
		}
		line := fmt.Sprintf("%s%s (%s) vol=%d", indicator, u.Username, u.Address, u.Volume)
		if u.MutedByMe {
			line += " [muted]"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
