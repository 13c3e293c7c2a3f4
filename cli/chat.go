package cli

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/recall/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat <session-id>",
		Short: "Chat with a session on a running server",
		Long:  "Reads one message per line from stdin and prints the streamed reply.",
		Args:  cobra.ExactArgs(1),
		RunE:  runChat,
	}
	cmd.Flags().String("server", "http://localhost:8000", "Server base URL")
	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	base, _ := cmd.Flags().GetString("server")
	wsURL, err := chatURL(base, args[0])
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", wsURL, err)
	}
	defer conn.Close()

	return chatLoop(conn, cmd.InOrStdin(), cmd.OutOrStdout())
}

// chatURL maps an http(s) base URL to the session's websocket endpoint.
func chatURL(base, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/ws/" + sessionID
	return u.String(), nil
}

func chatLoop(conn *websocket.Conn, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out, "> ")
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return err
		}
		if err := readReply(conn, out); err != nil {
			return err
		}
		fmt.Fprint(out, "\n> ")
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

// readReply prints token frames until the done frame.
func readReply(conn *websocket.Conn, out io.Writer) error {
	for {
		var f server.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Type {
		case server.FrameDone:
			return nil
		case server.FrameError:
			fmt.Fprintf(out, "\nerror: %s", f.Error)
		default:
			fmt.Fprint(out, f.Text)
		}
	}
}
