package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/sajacaros/conference-chat/internal/app"
	"github.com/sajacaros/conference-chat/internal/call"
	"github.com/sajacaros/conference-chat/internal/chat"
	"github.com/sajacaros/conference-chat/internal/router"
	"github.com/sajacaros/conference-chat/internal/signaling"
	"github.com/sajacaros/conference-chat/internal/util"
)

const (
	optUsers  = "Users   — Show who is online"
	optCall   = "Call    — Call a user"
	optAccept = "Accept  — Answer the incoming call"
	optReject = "Reject  — Decline the incoming call"
	optChat   = "Chat    — Send a message"
	optShare  = "Share   — Toggle screen share"
	optHangup = "Hang up — End the call"
	optQuit   = "Quit"
)

// console is the interactive menu. Events are printed as they arrive; the
// menu is redrawn after every action.
type console struct{}

func newConsole() *console { return &console{} }

func (c *console) events() app.Events {
	return app.Events{
		OnIncoming: func(in router.IncomingCall) {
			pterm.Println()
			util.LogInfo("incoming call from %s — choose Accept or Reject", in.Sender)
		},
		OnIncomingCancelled: func(sender string) {
			util.LogInfo("%s withdrew the call", sender)
		},
		OnState: func(s call.State) {
			util.LogInfo("call %s", s)
		},
		OnScreenShare: func(sharing bool) {
			if sharing {
				util.LogInfo("sharing screen")
			} else {
				util.LogInfo("back to camera")
			}
		},
		OnHangup: func(target string) {
			util.LogInfo("call with %s ended", target)
		},
		OnChat: printChat,
		OnDisconnect: func(err error) {
			if err != nil {
				util.LogWarning("relay stream closed: %v", err)
			}
		},
	}
}

func (c *console) run(ctx context.Context, a *app.App) {
	for ctx.Err() == nil {
		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions(c.options(a)).
			WithDefaultText(c.title(a)).
			Show()
		pterm.Println()

		if ctx.Err() != nil {
			return
		}

		var err error
		switch choice {
		case optUsers:
			printUsers(a.Identity().Email, a.Users())
		case optCall:
			err = c.call(ctx, a)
		case optAccept:
			err = a.Accept(ctx)
		case optReject:
			err = a.Reject(ctx)
		case optChat:
			err = a.SendChat(askText("Message"))
		case optShare:
			err = a.ToggleScreenShare(ctx)
		case optHangup:
			a.Hangup()
		case optQuit:
			return
		}
		if err != nil {
			util.LogError("%v", err)
		}
	}
}

func (c *console) title(a *app.App) string {
	calls := a.Calls()
	if target := calls.Target(); target != "" {
		return fmt.Sprintf("%s — in call with %s (%s)", a.Identity().Email, target, calls.State())
	}
	if in, ok := a.Pending(); ok {
		return fmt.Sprintf("%s — %s is calling", a.Identity().Email, in.Sender)
	}
	return a.Identity().Email
}

func (c *console) options(a *app.App) []string {
	opts := []string{optUsers}
	if _, ok := a.Pending(); ok {
		opts = append(opts, optAccept, optReject)
	}
	if a.Calls().Busy() {
		opts = append(opts, optChat, optShare, optHangup)
	} else {
		opts = append(opts, optCall)
	}
	return append(opts, optQuit)
}

func (c *console) call(ctx context.Context, a *app.App) error {
	self := a.Identity().Email
	var others []string
	for _, u := range a.Users() {
		if u.Email != self {
			others = append(others, u.Email)
		}
	}
	if len(others) == 0 {
		util.LogWarning("nobody else is online")
		return nil
	}

	target, _ := pterm.DefaultInteractiveSelect.
		WithOptions(others).
		WithDefaultText("Who do you want to call").
		Show()
	pterm.Println()
	return a.Call(ctx, target)
}

func printUsers(self string, users []signaling.User) {
	data := pterm.TableData{{"Email", "Name"}}
	for _, u := range users {
		email := u.Email
		if email == self {
			email += " (you)"
		}
		data = append(data, []string{email, u.Username})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	pterm.Println()
}

func printChat(m chat.Message) {
	name, _, _ := strings.Cut(m.Sender, "@")
	pterm.Printf("%s %s: %s\n", m.At.Format("15:04"), pterm.Bold.Sprint(name), m.Text)
}
