package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flemzord/reddichat/internal/client"
)

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Chat with a running server from the terminal",
		Long: "Send one message and stream the reply, or start an interactive " +
			"session when no message is given. Type /retry to resend a failed message.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			token, _ := cmd.Flags().GetString("token")
			convID, _ := cmd.Flags().GetString("conversation")
			paths, _ := cmd.Flags().GetStringSlice("file")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			strict, _ := cmd.Flags().GetBool("strict-heartbeat")
			if token == "" {
				token = os.Getenv("REDDICHAT_TOKEN")
			}

			files, err := readFiles(paths)
			if err != nil {
				return err
			}
			c, err := client.New(client.Config{
				BaseURL: server,
				Token:   token,
				Options: client.Options{Timeout: timeout, StrictHeartbeat: strict},
			})
			if err != nil {
				return err
			}

			p := &printer{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
			session := client.NewSession(c, p)
			if convID != "" {
				session.Resume(convID)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if len(args) == 1 {
				return session.Send(ctx, args[0], files)
			}
			return repl(ctx, session, cmd.InOrStdin(), p, files)
		},
	}
	cmd.Flags().String("server", "http://127.0.0.1:8080", "Server base URL")
	cmd.Flags().String("token", "", "Session token (defaults to $REDDICHAT_TOKEN)")
	cmd.Flags().String("conversation", "", "Continue an existing conversation")
	cmd.Flags().StringSlice("file", nil, "Attach a file to the first message")
	cmd.Flags().Duration("timeout", 0, "Idle timeout for a reply")
	cmd.Flags().Bool("strict-heartbeat", false, "Keep the heartbeat armed while a tool runs")
	return cmd
}

// repl reads one message per line until EOF. Files go with the first
// message only.
func repl(ctx context.Context, s *client.Session, in io.Reader, p *printer, files []client.File) error {
	fmt.Fprintln(p.errOut, titleStyle.Render("reddichat")+dimStyle.Render(" (ctrl-d to quit, /retry to resend)"))
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(p.errOut, titleStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(p.errOut)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		var err error
		switch line {
		case "":
			continue
		case "/retry":
			err = s.Retry(ctx)
		default:
			err = s.Send(ctx, line, files)
			files = nil
		}
		switch {
		case errors.Is(err, client.ErrNothingToRetry), errors.Is(err, client.ErrRetryLimit):
			fmt.Fprintln(p.errOut, warningStyle.Render(err.Error()))
		case ctx.Err() != nil:
			return nil
		}
	}
}

func readFiles(paths []string) ([]client.File, error) {
	files := make([]client.File, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, client.File{
			Name:     filepath.Base(path),
			MIMEType: mime.TypeByExtension(filepath.Ext(path)),
			Data:     data,
		})
	}
	return files, nil
}

// printer renders session updates as a terminal transcript. Reply text
// goes to out; tool activity, sources and errors go to errOut.
type printer struct {
	out    io.Writer
	errOut io.Writer

	turn    string // id of the assistant message being printed
	printed int
	tool    string
	done    bool
}

// OnUpdate implements client.Observer.
func (p *printer) OnUpdate(st client.State) {
	if len(st.Messages) == 0 {
		return
	}
	m := st.Messages[len(st.Messages)-1]
	if m.Role != "assistant" {
		return
	}
	// The pending bubble is replaced by the stored message on completion,
	// so a new turn starts when a pending message shows up again.
	if m.Pending && (m.ID != p.turn || p.done) {
		p.turn, p.printed, p.tool, p.done = m.ID, 0, "", false
	}
	if p.done {
		return
	}

	if st.CurrentTool != "" && st.CurrentTool != p.tool {
		p.tool = st.CurrentTool
		fmt.Fprintln(p.errOut, toolStyle.Render("searching with "+p.tool+"..."))
	}
	if len(m.Content) > p.printed {
		fmt.Fprint(p.out, m.Content[p.printed:])
		p.printed = len(m.Content)
	}
	if m.Pending {
		return
	}

	p.done = true
	fmt.Fprintln(p.out)
	if m.IsError {
		msg := m.Error
		if m.CanRetry {
			msg += " (type /retry)"
		}
		fmt.Fprintln(p.errOut, errorStyle.Render(msg))
		return
	}
	for i, src := range m.Sources {
		fmt.Fprintf(p.errOut, "%s %s %s\n", dimStyle.Render(fmt.Sprintf("[%d]", i+1)), src.Title, dimStyle.Render(src.URL))
	}
	if st.ConversationID != "" {
		fmt.Fprintln(p.errOut, dimStyle.Render("conversation "+st.ConversationID))
	}
}
