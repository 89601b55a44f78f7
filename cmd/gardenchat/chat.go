package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jroimartin/gocui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	gardenchat "github.com/KhaoticNeutral/gardenchat-go"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		s, err := newChatSession(cfg)
		if err != nil {
			return err
		}
		defer s.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ui, err := NewChatUI(s)
		if err != nil {
			return err
		}
		defer ui.Close()

		for _, g := range cfg.groups() {
			if err := ui.follow(ctx, g); err != nil {
				return err
			}
		}
		if _, err := s.client.SubscribePresence(ui.onPresence); err != nil {
			return fmt.Errorf("subscribe presence: %w", err)
		}

		go func() {
			if err := s.connect(ctx); err != nil {
				ui.updateStatus(fmt.Sprintf("connect failed: %v", err))
				return
			}
			s.announce(ctx)
			ui.updateStatus("connected as " + s.creds.Username)
			s.watchEvents(ctx, ui.updateStatus, func() { s.announce(ctx) })
		}()
		go func() {
			<-ctx.Done()
			ui.gui.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
		}()

		err = ui.Run(ctx)

		leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.leave(leaveCtx)
		return err
	},
}

// ============================================================================
// ChatUI
// ============================================================================

const (
	messagesView = "messages"
	groupsView   = "groups"
	usersView    = "users"
	statusView   = "status"
	inputView    = "input"

	typingThrottle = time.Second
)

// ChatUI is the terminal chat window: messages of the current group, the
// followed groups, online users, a status line and the input field.
type ChatUI struct {
	gui     *gocui.Gui
	session *chatSession

	mu         sync.Mutex
	current    string
	groups     []string
	lines      map[string][]string
	online     []string
	typing     map[string]map[string]bool
	status     string
	lastTyping time.Time
}

func NewChatUI(s *chatSession) (*ChatUI, error) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, err
	}
	ui := &ChatUI{
		gui:     g,
		session: s,
		lines:   make(map[string][]string),
		typing:  make(map[string]map[string]bool),
		status:  "connecting...",
	}
	g.SetManagerFunc(ui.layout)
	return ui, nil
}

// follow subscribes to a group's messages and typing signals and loads its
// stored history.
func (ui *ChatUI) follow(ctx context.Context, group string) error {
	group = strings.TrimSpace(group)
	if err := ui.session.client.AddGroup(group); err != nil {
		return err
	}
	if _, err := ui.session.client.SubscribeMessages(group, ui.onMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", group, err)
	}
	if _, err := ui.session.client.SubscribeTyping(group, ui.onTyping); err != nil {
		return fmt.Errorf("subscribe typing %s: %w", group, err)
	}

	msgs, err := ui.session.history.Messages(ctx, group, 50)
	if err != nil {
		logger.Warn("history unavailable", zap.String("group", group), zap.Error(err))
	}

	ui.mu.Lock()
	if !containsGroup(ui.groups, group) {
		ui.groups = append(ui.groups, group)
		sort.Strings(ui.groups)
	}
	if ui.current == "" {
		ui.current = group
	}
	if _, ok := ui.lines[group]; !ok {
		for _, m := range msgs {
			ui.lines[group] = append(ui.lines[group], formatMessage(m))
		}
	}
	ui.mu.Unlock()
	ui.redraw()
	return nil
}

func (ui *ChatUI) onMessage(m gardenchat.ChatMessage) {
	ui.mu.Lock()
	ui.lines[m.Group] = append(ui.lines[m.Group], formatMessage(m))
	ui.mu.Unlock()
	ui.redraw()
}

func (ui *ChatUI) onTyping(ev gardenchat.TypingEvent) {
	ui.mu.Lock()
	// expiry is per group, so an inactive event clears every typer in it
	if !ev.Active {
		delete(ui.typing, ev.Group)
	} else {
		if ui.typing[ev.Group] == nil {
			ui.typing[ev.Group] = make(map[string]bool)
		}
		ui.typing[ev.Group][ev.Username] = true
	}
	ui.mu.Unlock()
	ui.redraw()
}

func (ui *ChatUI) onPresence(p gardenchat.PresenceUpdate) {
	ui.mu.Lock()
	ui.online = append([]string(nil), p.Users...)
	sort.Strings(ui.online)
	ui.mu.Unlock()
	ui.redraw()
}

func (ui *ChatUI) updateStatus(status string) {
	ui.mu.Lock()
	ui.status = status
	ui.mu.Unlock()
	ui.redraw()
}

func (ui *ChatUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	sidebarWidth := 24
	msgWidth := maxX - sidebarWidth - 1
	msgHeight := maxY - 6
	groupHeight := msgHeight / 2

	if v, err := g.SetView(messagesView, 0, 0, msgWidth, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Wrap = true
		v.Autoscroll = true
	}
	if _, err := g.SetView(groupsView, msgWidth+1, 0, maxX-1, groupHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
	}
	if v, err := g.SetView(usersView, msgWidth+1, groupHeight+1, maxX-1, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Online"
	}
	if v, err := g.SetView(statusView, 0, msgHeight+1, maxX-1, msgHeight+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
	}
	if v, err := g.SetView(inputView, 0, msgHeight+3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Message (/join <group>, /leave, /quit)"
		v.Editable = true
		v.Editor = gocui.EditorFunc(ui.edit)
		if _, err := g.SetCurrentView(inputView); err != nil {
			return err
		}
	}
	return ui.render(g)
}

func (ui *ChatUI) redraw() {
	if ui.gui == nil {
		return
	}
	ui.gui.Update(ui.render)
}

// render repaints every read-only view from the current state.
func (ui *ChatUI) render(g *gocui.Gui) error {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	if v, err := g.View(messagesView); err == nil {
		v.Clear()
		v.Title = "#" + ui.current
		for _, line := range ui.lines[ui.current] {
			fmt.Fprintln(v, line)
		}
	}
	if v, err := g.View(groupsView); err == nil {
		v.Clear()
		v.Title = "Groups"
		for _, name := range ui.groups {
			prefix := "  "
			if name == ui.current {
				prefix = "* "
			}
			fmt.Fprintf(v, "%s%s\n", prefix, name)
		}
	}
	if v, err := g.View(usersView); err == nil {
		v.Clear()
		for _, u := range ui.online {
			fmt.Fprintln(v, u)
		}
	}
	if v, err := g.View(statusView); err == nil {
		v.Clear()
		line := ui.status
		if typers := ui.typersLocked(); len(typers) > 0 {
			line = fmt.Sprintf("%s | %s typing...", line, strings.Join(typers, ", "))
		}
		fmt.Fprint(v, line)
	}
	return nil
}

func (ui *ChatUI) typersLocked() []string {
	var out []string
	for u := range ui.typing[ui.current] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// edit wraps the default editor, sending a throttled typing signal on input.
func (ui *ChatUI) edit(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
	gocui.DefaultEditor.Edit(v, key, ch, mod)
	if ch == 0 && key != gocui.KeySpace {
		return
	}

	ui.mu.Lock()
	group := ui.current
	due := time.Since(ui.lastTyping) >= typingThrottle
	if due {
		ui.lastTyping = time.Now()
	}
	ui.mu.Unlock()

	if due && group != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := ui.session.client.PublishTyping(ctx, ui.session.creds.Username, group); err != nil {
				logger.Debug("typing signal failed", zap.Error(err))
			}
		}()
	}
}

func (ui *ChatUI) keybindings(ctx context.Context) error {
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(*gocui.Gui, *gocui.View) error {
			return gocui.ErrQuit
		}); err != nil {
		return err
	}
	if err := ui.gui.SetKeybinding(inputView, gocui.KeyEnter, gocui.ModNone,
		func(_ *gocui.Gui, v *gocui.View) error {
			return ui.handleInput(ctx, v)
		}); err != nil {
		return err
	}
	// Tab cycles the current group.
	return ui.gui.SetKeybinding("", gocui.KeyTab, gocui.ModNone,
		func(*gocui.Gui, *gocui.View) error {
			ui.mu.Lock()
			for i, g := range ui.groups {
				if g == ui.current {
					ui.current = ui.groups[(i+1)%len(ui.groups)]
					break
				}
			}
			ui.mu.Unlock()
			ui.redraw()
			return nil
		})
}

func (ui *ChatUI) handleInput(ctx context.Context, v *gocui.View) error {
	input := strings.TrimSpace(v.Buffer())
	v.Clear()
	_ = v.SetCursor(0, 0)
	if input == "" {
		return nil
	}

	cmd, arg, _ := strings.Cut(input, " ")
	switch cmd {
	case "/quit":
		return gocui.ErrQuit
	case "/join":
		group := strings.TrimSpace(arg)
		if group == "" {
			ui.updateStatus("usage: /join <group>")
			return nil
		}
		if err := ui.follow(ctx, group); err != nil {
			ui.updateStatus(fmt.Sprintf("join %s: %v", group, err))
			return nil
		}
		ui.mu.Lock()
		ui.current = group
		ui.mu.Unlock()
		ui.redraw()
		return nil
	case "/leave":
		ui.leaveCurrent()
		return nil
	}

	ui.mu.Lock()
	group := ui.current
	ui.mu.Unlock()

	go func() {
		msg, err := gardenchat.NewChatMessage(ui.session.creds.Username, input, group)
		if err == nil {
			err = ui.session.client.PublishMessage(ctx, msg)
		}
		if err != nil {
			ui.updateStatus(fmt.Sprintf("send failed: %v", err))
		}
	}()
	return nil
}

func (ui *ChatUI) leaveCurrent() {
	ui.mu.Lock()
	if len(ui.groups) <= 1 {
		ui.mu.Unlock()
		ui.updateStatus("cannot leave the last group")
		return
	}
	group := ui.current
	kept := ui.groups[:0]
	for _, g := range ui.groups {
		if g != group {
			kept = append(kept, g)
		}
	}
	ui.groups = kept
	ui.current = kept[0]
	delete(ui.typing, group)
	delete(ui.lines, group)
	ui.mu.Unlock()

	ui.session.client.RemoveGroup(group)
	ui.redraw()
}

// Run blocks in the UI main loop until the user quits or ctx ends.
func (ui *ChatUI) Run(ctx context.Context) error {
	if err := ui.keybindings(ctx); err != nil {
		return err
	}
	if err := ui.gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func (ui *ChatUI) Close() {
	ui.gui.Close()
}
