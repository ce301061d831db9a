package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/messenger-client/internal/model"
)

// terminalView печатает состояние сессии в терминал. Сообщения беседы печатаются только новые.
type terminalView struct {
	mu     sync.Mutex
	out    io.Writer
	userID string
	shown  map[string]bool
	convID string
	title  string
}

func newTerminalView(out io.Writer, userID string) *terminalView {
	return &terminalView{out: out, userID: userID, shown: make(map[string]bool)}
}

func (v *terminalView) line(m model.Message) string {
	who := m.SenderID
	if m.SenderID == v.userID {
		who = "вы"
	}
	mark := ""
	if m.SenderID == v.userID {
		switch m.Status {
		case model.MessageStatusDelivered:
			mark = " ✓✓"
		case model.MessageStatusRead:
			mark = " ✓✓ прочитано"
		default:
			mark = " ✓"
		}
	}
	return fmt.Sprintf("[%s] %s: %s%s", m.Timestamp.Local().Format("15:04"), who, m.Content, mark)
}

func (v *terminalView) RenderMessages(sel model.Selection, msgs []model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if sel.ID != v.convID {
		v.convID = sel.ID
		v.shown = make(map[string]bool)
		name := sel.Name
		if name == "" {
			name = sel.ID
		}
		fmt.Fprintf(v.out, "── %s (%d) ──\n", name, len(msgs))
	}
	for _, m := range msgs {
		if v.shown[m.ID] {
			continue
		}
		v.shown[m.ID] = true
		fmt.Fprintln(v.out, v.line(m))
	}
}

func (v *terminalView) RenderOptimistic(m model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shown[m.ID] = true
	fmt.Fprintln(v.out, v.line(m)+" …")
}

func (v *terminalView) RenderDiscussions(ds []model.Discussion) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, "── беседы ──")
	for _, d := range ds {
		fav := " "
		if d.IsFavorite {
			fav = "*"
		}
		unread := ""
		if d.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d)", d.UnreadCount)
		}
		fmt.Fprintf(v.out, "%s [%s] %-24s %s %s%s: %s\n", fav, d.Avatar, d.Name, d.Kind, d.ID, unread, d.LastMessage.Content)
	}
}

func (v *terminalView) RenderUnread(count int, title string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if title == v.title {
		return
	}
	v.title = title
	// OSC 0: заголовок окна терминала.
	fmt.Fprintf(v.out, "\033]0;%s\007", title)
	if count > 0 {
		fmt.Fprintf(v.out, "непрочитанных: %d\n", count)
	}
}

func (v *terminalView) ShowError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "ошибка: %v\n", err)
}
