package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pterm/pterm"

	"secureconnect-sync/internal/call"
	"secureconnect-sync/internal/client"
	"secureconnect-sync/internal/domain"
	"secureconnect-sync/internal/msgsync"
	"secureconnect-sync/pkg/constants"
)

const helpText = `call <peer> [audio|video]  place a call
accept | decline          answer the ringing call
hangup                    end the current call
msg <peer> <text>         send a message
open <peer>               load and show a conversation
close                     leave the open conversation
status                    show the current call
help                      show this help
quit                      disconnect and exit`

// command is one parsed console line
type command struct {
	name string
	peer string
	kind domain.MediaKind
	text string
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}

	cmd := command{name: strings.ToLower(fields[0])}
	switch cmd.name {
	case "call":
		if len(fields) < 2 {
			return cmd, fmt.Errorf("usage: call <peer> [audio|video]")
		}
		cmd.peer = fields[1]
		cmd.kind = domain.MediaAudio
		if len(fields) > 2 {
			cmd.kind = domain.MediaKind(strings.ToLower(fields[2]))
			if !cmd.kind.Valid() {
				return cmd, fmt.Errorf("call type must be audio or video")
			}
		}
	case "msg":
		if len(fields) < 3 {
			return cmd, fmt.Errorf("usage: msg <peer> <text>")
		}
		cmd.peer = fields[1]
		rest := strings.TrimSpace(line)
		rest = strings.TrimSpace(rest[len(fields[0]):])
		cmd.text = strings.TrimSpace(rest[len(fields[1]):])
	case "open":
		if len(fields) != 2 {
			return cmd, fmt.Errorf("usage: open <peer>")
		}
		cmd.peer = fields[1]
	case "accept", "decline", "hangup", "close", "status", "help", "quit", "exit":
	default:
		return cmd, fmt.Errorf("unknown command %q, try help", fields[0])
	}
	return cmd, nil
}

// console renders engine notifications and executes typed commands
type console struct {
	c *client.Client

	mu       sync.Mutex
	incoming *call.IncomingCall
	shown    map[string]int // rendered entries per open conversation
}

func newConsole(c *client.Client) *console {
	return &console{c: c, shown: make(map[string]int)}
}

// watch registers the UI observers on the engines
func (u *console) watch() {
	u.c.Calls.OnIncoming(func(in *call.IncomingCall) {
		u.mu.Lock()
		u.incoming = in
		u.mu.Unlock()
		pterm.Info.Printfln("Incoming %s call from %s (accept / decline)", in.MediaKind, in.CallerID)
	})
	u.c.Calls.OnStateChange(func(s call.Snapshot) {
		if s.State == call.StateIdle {
			u.mu.Lock()
			u.incoming = nil
			u.mu.Unlock()
			pterm.Info.Println("Call ended")
			return
		}
		pterm.Info.Printfln("Call %s with %s: %s", s.CallID, s.PeerID, s.State)
	})
	u.c.Calls.OnFailure(func(callID string, err error) {
		pterm.Error.Printfln("Call %s failed: %v", callID, err)
	})
	u.c.Calls.OnRemoteTrack(func(callID string, t call.RemoteTrack) {
		pterm.Debug.Printfln("Receiving %s (%s) on call %s", t.Kind, t.Codec, callID)
	})
	u.c.Messages.OnChange(u.renderConversation)
	u.c.Presence.OnChange(func(p domain.Presence) {
		pterm.Info.Printfln("%s is %s", p.UserID, p.Status)
	})
}

func (u *console) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	pterm.Println(helpText)
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.c.Done():
			pterm.Warning.Println("Disconnected from relay")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd, err := parseCommand(line)
			if err != nil {
				pterm.Warning.Println(err)
				continue
			}
			if cmd.name == "quit" || cmd.name == "exit" {
				return
			}
			if err := u.execute(ctx, cmd); err != nil {
				pterm.Error.Println(err)
			}
		}
	}
}

func (u *console) execute(ctx context.Context, cmd command) error {
	opCtx, cancel := context.WithTimeout(ctx, constants.DefaultRequestTimeout)
	defer cancel()

	switch cmd.name {
	case "call":
		snap, err := u.c.Calls.StartCall(opCtx, cmd.peer, cmd.kind)
		if err != nil {
			return err
		}
		pterm.Info.Printfln("Calling %s (%s)", snap.PeerID, snap.CallID)
	case "accept":
		if in := u.takeIncoming(); in != nil {
			return in.Accept(opCtx)
		}
		return u.c.Calls.AnswerCall(opCtx)
	case "decline":
		if in := u.takeIncoming(); in != nil {
			return in.Decline(opCtx)
		}
		return u.c.Calls.DeclineCall(opCtx)
	case "hangup":
		return u.c.Calls.EndCall(opCtx)
	case "msg":
		_, err := u.c.Messages.SendMessage(opCtx, cmd.peer, cmd.text)
		return err
	case "open":
		u.mu.Lock()
		u.shown[cmd.peer] = 0
		u.mu.Unlock()
		u.c.Messages.SetActiveConversation(cmd.peer)
		if err := u.c.Messages.LoadConversation(opCtx, cmd.peer); err != nil {
			return err
		}
		u.renderConversation(cmd.peer, u.c.Messages.Messages(cmd.peer))
	case "close":
		u.c.Messages.SetActiveConversation("")
	case "status":
		snap, ok := u.c.Calls.Current()
		if !ok {
			pterm.Info.Println("No active call")
			return nil
		}
		return pterm.DefaultTable.WithData(pterm.TableData{
			{"call", snap.CallID},
			{"peer", snap.PeerID},
			{"type", string(snap.MediaKind)},
			{"role", string(snap.Role)},
			{"state", string(snap.State)},
		}).Render()
	case "help":
		pterm.Println(helpText)
	}
	return nil
}

func (u *console) takeIncoming() *call.IncomingCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	in := u.incoming
	u.incoming = nil
	return in
}

// renderConversation prints the entries of the open conversation that have
// not been shown yet. Other conversations only get a one-line notice.
func (u *console) renderConversation(peerID string, entries []msgsync.Entry) {
	if peerID != u.c.Messages.ActiveConversation() {
		if n := len(entries); n > 0 && entries[n-1].SenderID == peerID {
			pterm.Info.Printfln("New message from %s (open %s)", peerID, peerID)
		}
		return
	}

	u.mu.Lock()
	from := u.shown[peerID]
	if from > len(entries) {
		from = 0
	}
	u.shown[peerID] = len(entries)
	u.mu.Unlock()

	for _, e := range entries[from:] {
		pterm.Println(formatEntry(e))
	}
}

func formatEntry(e msgsync.Entry) string {
	status := string(e.Status)
	switch {
	case e.Failed:
		status = "failed"
	case e.Origin == domain.OriginLocalOptimistic:
		status = "sending"
	}
	return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Local().Format("15:04:05"), e.SenderID, e.Content, status)
}
