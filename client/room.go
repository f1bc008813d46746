package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mahaj/whisper/pkg/chat"
	"github.com/mahaj/whisper/pkg/model"
)

func formatMessage(m model.Message) string {
	return fmt.Sprintf("[%s] %s: %s", m.Time().Format("15:04"), m.Username, m.Content)
}

// runRoom prints new messages as they arrive and sends each input line.
// /more loads an older page, /who lists who is online and /quit leaves.
func runRoom(ctx context.Context, c *chat.Client, in io.Reader, out io.Writer) error {
	var last int64
	for _, m := range c.Messages() {
		fmt.Fprintln(out, formatMessage(m))
		last = m.ID
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	sessions, unsubscribe := c.Store.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil

		case s := <-sessions:
			if !s.Valid() {
				fmt.Fprintln(out, "session ended, log in again")
				return nil
			}

		case <-c.Timeline.Updated():
			for _, m := range c.Timeline.After(last) {
				fmt.Fprintln(out, formatMessage(m))
				last = m.ID
			}

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
			case "/quit":
				return nil
			case "/who":
				fmt.Fprintf(out, "online: %s\n", strings.Join(c.Users(), ", "))
			case "/more":
				page, err := c.LoadOlder(ctx)
				if err != nil {
					fmt.Fprintf(out, "could not load older messages: %v\n", err)
					continue
				}
				if len(page) == 0 {
					fmt.Fprintln(out, "no older messages")
					continue
				}
				for i := len(page) - 1; i >= 0; i-- {
					fmt.Fprintln(out, formatMessage(page[i]))
				}
			default:
				if !c.Send(line) {
					fmt.Fprintln(out, "not connected, message not sent")
				}
			}
		}
	}
}
