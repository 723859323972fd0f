package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/term"

	"fittrack/internal/client"
	"fittrack/internal/config"
	"fittrack/internal/idle"
)

// Se reemplazan en tests para no tocar la terminal.
var (
	stdinFd      = int(os.Stdin.Fd())
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	session := client.NewSession(cfg.APIBaseURL, client.Options{
		Logger: logger,
		Idle: idle.Config{
			Timeout:     cfg.IdleTimeout,
			WarningLead: cfg.IdleWarningLead,
			OnWarning: func(remaining time.Duration) {
				fmt.Printf("\nYour session will end in %s due to inactivity. Press Enter to stay logged in.\n", remaining)
			},
		},
		OnLoggedOut: func(reason idle.Reason) {
			if reason == idle.ReasonIdle {
				fmt.Println("\nYou have been logged out.")
			}
		},
	})
	defer session.Close()

	run(context.Background(), session, bufio.NewReader(os.Stdin), os.Stdout)
}

func run(ctx context.Context, session *client.Session, reader *bufio.Reader, w io.Writer) {
	for {
		if notice, ok := session.Notice(); ok {
			fmt.Fprintln(w, notice)
		}
		fmt.Fprintf(w, "fittrack [%s]> ", status(session))
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		session.Touch()

		switch cmd := strings.TrimSpace(line); cmd {
		case "":
		case "help":
			fmt.Fprintln(w, "Commands: login, me, logout, exit")
		case "login":
			login(ctx, session, reader, w)
		case "me":
			user, err := session.Me(ctx)
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "%s <%s> role=%s verified=%t\n", user.Name, user.Email, user.Role, user.IsVerified)
		case "logout":
			if err := session.Logout(ctx); err != nil && !errors.Is(err, client.ErrNotSignedIn) {
				fmt.Fprintf(w, "error: %v\n", err)
			}
		case "exit", "quit":
			return
		default:
			fmt.Fprintf(w, "unknown command %q\n", cmd)
		}
	}
}

func login(ctx context.Context, session *client.Session, reader *bufio.Reader, w io.Writer) {
	fmt.Fprint(w, "Email: ")
	emailAddr, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	fmt.Fprint(w, "Password: ")
	password, err := readSecret(reader)
	fmt.Fprintln(w)
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}

	res, err := session.Login(ctx, strings.TrimSpace(emailAddr), password)
	if err != nil {
		fmt.Fprintf(w, "login failed: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Welcome, %s.\n", res.User.Name)
	if !res.User.IsVerified {
		fmt.Fprintln(w, "Your email is not verified yet. Check your inbox for the verification code.")
	}
}

// readSecret lee sin eco solo si stdin es una terminal y el reader no tiene
// nada pendiente; si no, la línea sale del mismo reader que los comandos.
func readSecret(reader *bufio.Reader) (string, error) {
	if reader.Buffered() == 0 && isTerminal(stdinFd) {
		b, err := readPassword(stdinFd)
		return string(b), err
	}
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func status(session *client.Session) string {
	if session.Token() == "" {
		return "signed out"
	}
	return session.State().String()
}
