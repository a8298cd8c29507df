package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/jobhunter/internal/chat"
)

var chatActor string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Drive the pipeline from an interactive chat console",
	Long: `Read chat commands from stdin and print the replies. Try /help, /findjobs, /review,
/approve 3, /reject 3, /generate 3, /stats and /profile. Type /quit or press Ctrl-D to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatActor, "actor", "console", "Name recorded on review decisions")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.resume(ctx); err != nil {
		return err
	}

	in := a.interpreter()
	session := chat.Session{ID: uuid.NewString(), Actor: chatActor}
	err = chatLoop(cmd.InOrStdin(), cmd.OutOrStdout(), func(text string) string {
		return in.Handle(ctx, session, text)
	})
	a.engine.Wait()
	return err
}

// chatLoop feeds each non-empty input line to handle and prints the reply.
func chatLoop(in io.Reader, out io.Writer, handle func(string) string) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit", "/exit":
			return nil
		default:
			fmt.Fprintln(out, handle(line))
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}
