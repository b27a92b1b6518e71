package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/uuid/v5"
	"golang.org/x/term"

	pb "github.com/and161185/squadcal/api/squadcal/v1"
	"github.com/and161185/squadcal/internal/client"
	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/model"
)

// ------- input -------

// passwordOrPrompt returns p, or reads a password from in. Terminals get a
// no-echo prompt; pipes are read one line at a time.
func passwordOrPrompt(p string, in *os.File, prompt io.Writer) (string, error) {
	if p != "" {
		return p, nil
	}
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// conflictHint spells out the server's text on a stale edit.
func conflictHint(err error) error {
	var cm *errs.ConcurrentModificationError
	if errors.As(err, &cm) {
		return fmt.Errorf("entry was changed elsewhere, current text is %q; retry with -prev set to it", cm.ServerText)
	}
	return err
}

// ------- output -------

func ago(ms int64, now time.Time) string {
	if ms == 0 {
		return "-"
	}
	return humanize.RelTime(time.UnixMilli(ms), now, "ago", "from now")
}

func until(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func granted(p pb.Permissions) []string {
	var out []string
	for name, g := range p {
		if g.Value {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// directoryLines renders threads by id, children indented under their parent.
func directoryLines(d *pb.GetThreadDirectoryResponse, now time.Time) []string {
	ids := make([]int64, 0, len(d.Threads))
	for id := range d.Threads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		t := d.Threads[id]
		indent := ""
		if _, ok := d.Threads[t.ParentThreadID]; ok && t.ParentThreadID != 0 {
			indent = "  "
		}
		role := "-"
		if t.CurrentUser.Role != 0 {
			role = fmt.Sprint(t.CurrentUser.Role)
		}
		lines = append(lines, fmt.Sprintf("%s#%d %s members=%s role=%s created %s [%s]",
			indent, t.ID, t.Name, humanize.Comma(int64(len(t.Members))), role,
			ago(t.CreationTime, now), strings.Join(granted(t.CurrentUser.Permissions), ",")))
	}
	return lines
}

func username(users map[uuid.UUID]model.UserInfo, id uuid.UUID) string {
	if id == uuid.Nil {
		return "anonymous"
	}
	if u, ok := users[id]; ok && u.Username != "" {
		return u.Username
	}
	return id.String()[:8]
}

func names(users map[uuid.UUID]model.UserInfo, ids []uuid.UUID) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = username(users, id)
	}
	return strings.Join(out, ", ")
}

// describe renders a message body as one line of prose.
func describe(m model.Message, users map[uuid.UUID]model.UserInfo) string {
	who := username(users, m.CreatorID)
	switch p := m.Payload.(type) {
	case model.TextPayload:
		return who + ": " + p.Text
	case model.CreateThreadPayload:
		return fmt.Sprintf("%s created %q", who, p.Name)
	case model.CreateSubThreadPayload:
		return fmt.Sprintf("%s created subthread #%d", who, p.ChildThreadID)
	case model.AddMembersPayload:
		return fmt.Sprintf("%s added %s", who, names(users, p.UserIDs))
	case model.RemoveMembersPayload:
		return fmt.Sprintf("%s removed %s", who, names(users, p.UserIDs))
	case model.ChangeRolePayload:
		return fmt.Sprintf("%s moved %s to role %d", who, names(users, p.UserIDs), p.NewRole)
	case model.ChangeSettingsPayload:
		return fmt.Sprintf("%s set %s to %q", who, p.Field, p.Value)
	case model.JoinThreadPayload:
		return who + " joined"
	case model.LeaveThreadPayload:
		return who + " left"
	case model.CreateEntryPayload:
		return fmt.Sprintf("%s added %s: %s", who, p.Day, p.Text)
	case model.EditEntryPayload:
		return fmt.Sprintf("%s edited %s: %s", who, p.Day, p.Text)
	}
	return fmt.Sprintf("%s: (%s)", who, m.Type())
}

// messageLines groups a fetch result per thread, newest first, with the
// thread's truncation status in the header.
func messageLines(res model.MessagesResult, now time.Time) []string {
	byThread := map[int64][]model.Message{}
	for _, m := range res.Messages {
		byThread[m.ThreadID] = append(byThread[m.ThreadID], m)
	}
	ids := make([]int64, 0, len(res.Truncation))
	for id := range res.Truncation {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var lines []string
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("thread #%d (%s)", id, res.Truncation[id]))
		for _, m := range byThread[id] {
			lines = append(lines, fmt.Sprintf("  %-8s %-16s %s", m.Key(), ago(m.Time, now), describe(m, res.Users)))
		}
	}
	return lines
}

func pendingLines(ps []client.Pending) []string {
	lines := make([]string, 0, len(ps))
	for _, p := range ps {
		line := fmt.Sprintf("%s %s thread=%d", p.LocalID, p.State, p.ThreadID)
		if p.ID != 0 {
			line += fmt.Sprintf(" id=%d", p.ID)
		}
		if p.State == client.StateConflicted {
			line += fmt.Sprintf(" server=%q", p.ServerText)
		}
		lines = append(lines, line)
	}
	return lines
}

func entryLine(e pb.EntryInfo, now time.Time) string {
	mark := ""
	if e.Deleted {
		mark = " (deleted)"
	}
	return fmt.Sprintf("%s #%d %q updated %s%s", e.Day, e.ID, e.Text, ago(e.LastUpdate, now), mark)
}

func revisionLine(r pb.RevisionInfo, now time.Time) string {
	mark := ""
	if r.Deleted {
		mark = " (deleted)"
	}
	return fmt.Sprintf("rev %d %s %q session=%s%s", r.ID, ago(r.LastUpdate, now), r.Text, r.SessionID, mark)
}
