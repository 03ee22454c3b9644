package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hitoshi/kuzamarket/internal/auth"
	"github.com/hitoshi/kuzamarket/internal/config"
	"github.com/hitoshi/kuzamarket/internal/repository"
)

// commandRunners はサブコマンドの実処理。テストで差し替える。
type commandRunners struct {
	serve         func(cfg *config.Config) error
	worker        func(cfg *config.Config) error
	migrateUp     func(cfg *config.Config) error
	migrateDown   func(cfg *config.Config, steps int) error
	migrateVer    func(cfg *config.Config, out io.Writer) error
	healthcheck   func(baseURL string) error
	addUser       func(cfg *config.Config, in addUserInput) error
	readPassword  func(prompt string) (string, error)
	loadConfig    func(w io.Writer) (*config.Config, error)
	healthBaseURL func() string
}

func defaultRunners(w io.Writer) commandRunners {
	return commandRunners{
		serve:         runServe,
		worker:        runWorker,
		migrateUp:     runMigrateUp,
		migrateDown:   runMigrateDown,
		migrateVer:    runMigrateVersion,
		healthcheck:   runHealthcheck,
		addUser:       runAddUser,
		readPassword:  promptPassword(os.Stdin, w),
		loadConfig:    Init,
		healthBaseURL: healthcheckBaseURL,
	}
}

// NewRootCommand はkuzamarketのルートコマンドを返す。
// サブコマンドを省略した場合はserveとして起動する。
func NewRootCommand(w io.Writer) *cobra.Command {
	return newRootCommand(w, defaultRunners(w))
}

func newRootCommand(w io.Writer, r commandRunners) *cobra.Command {
	withConfig := func(fn func(cfg *config.Config) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := r.loadConfig(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			slog.Info("starting application", slog.String("command", cmd.Name()))
			return fn(cfg)
		}
	}

	root := &cobra.Command{
		Use:           "kuzamarket",
		Short:         "Campus marketplace API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          withConfig(r.serve),
	}
	root.SetOut(w)
	root.SetErr(w)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE:  withConfig(r.serve),
	}

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run periodic cleanup of sessions, history, views and saved rows",
		Args:  cobra.NoArgs,
		RunE:  withConfig(r.worker),
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Args:  cobra.NoArgs,
		RunE:  withConfig(r.migrateUp),
	}
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE:  withConfig(r.migrateUp),
	})
	var steps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migrations",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(cfg *config.Config) error {
			return r.migrateDown(cfg, steps)
		}),
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(downCmd)
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: withConfig(func(cfg *config.Config) error {
			return r.migrateVer(cfg, w)
		}),
	})

	// healthcheck は設定の読み込みを行わない軽量コマンド。
	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the local server's /healthz endpoint",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return r.healthcheck(r.healthBaseURL())
		},
	}

	var in addUserInput
	addUserCmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user account from the command line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := r.readPassword("Password: ")
			if err != nil {
				return err
			}
			confirm, err := r.readPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}
			in.Password = password
			return withConfig(func(cfg *config.Config) error {
				return r.addUser(cfg, in)
			})(cmd, args)
		},
	}
	addUserCmd.Flags().StringVar(&in.Email, "email", "", "email address of the new user")
	addUserCmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	addUserCmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	addUserCmd.MarkFlagRequired("email")

	root.AddCommand(serveCmd, workerCmd, migrateCmd, healthCmd, addUserCmd)
	return root
}

type addUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// runAddUser はユーザーとプロフィールを作成する。
func runAddUser(cfg *config.Config, in addUserInput) error {
	ctx := context.Background()
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := auth.NewService(repository.NewPostgresUserRepo(db), repository.NewPostgresSessionRepo(db), nil, auth.ServiceConfig{})
	user, err := svc.CreateUser(ctx, in.Email, in.Password, in.FirstName, in.LastName)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	slog.Info("user created", slog.String("user_id", user.ID), slog.String("email", user.Email))
	return nil
}

// promptPassword は端末ならエコーなしで、それ以外は1行読んでパスワードを返す。
func promptPassword(in *os.File, out io.Writer) func(prompt string) (string, error) {
	reader := bufio.NewReader(in)
	return func(prompt string) (string, error) {
		fd := int(in.Fd())
		if term.IsTerminal(fd) {
			fmt.Fprint(out, prompt)
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			if err != nil {
				return "", fmt.Errorf("failed to read password: %w", err)
			}
			return string(b), nil
		}
		return readLine(reader)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
