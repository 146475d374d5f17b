package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dmitrijs2005/chatauth/internal/authctl/config"
	"github.com/dmitrijs2005/chatauth/internal/authctl/session"
	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/dmitrijs2005/chatauth/internal/peer"
	"github.com/dmitrijs2005/chatauth/internal/server/auth"
	"github.com/spf13/pflag"
)

const serviceKeyAlg = "HS256"

// Sessions persists the current login between invocations.
type Sessions interface {
	Load(ctx context.Context) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
	Clear(ctx context.Context) error
}

type App struct {
	config   *config.Config
	users    *peer.UsersClient
	nonces   *peer.NonceClient
	sessions Sessions
	reader   *bufio.Reader
	out      io.Writer
	errOut   io.Writer
}

func NewApp(cfg *config.Config, sessions Sessions, in io.Reader, out, errOut io.Writer, logger logging.Logger) *App {
	opts := peer.Options{Timeout: cfg.Timeout, Logger: logger}

	usersOpts := opts
	usersOpts.BaseURL = cfg.UsersURL
	noncesOpts := opts
	noncesOpts.BaseURL = cfg.NonceURL

	return &App{
		config:   cfg,
		users:    peer.NewUsersClient(usersOpts),
		nonces:   peer.NewNonceClient(noncesOpts),
		sessions: sessions,
		reader:   bufio.NewReader(in),
		out:      out,
		errOut:   errOut,
	}
}

// Run executes the command line args (without the program name and the
// global flags).
func (a *App) Run(ctx context.Context, args []string) error {
	return a.Root().Execute(ctx, args, a.errOut)
}

func (a *App) Root() *Command {
	return &Command{
		Name:    "authctl",
		Summary: "Operator CLI for the chatauth users and nonce services",
		Usage:   "authctl [global flags] <command> [flags]",
		Subcommands: []*Command{
			accountCommand("register", "Create an account", a.register),
			accountCommand("login", "Log in and store the session locally", a.login),
			{Name: "refresh", Summary: "Rotate the stored refresh token", Usage: "authctl refresh", Run: a.refresh},
			{Name: "logout", Summary: "Revoke the stored refresh token and forget the session", Usage: "authctl logout", Run: a.logout},
			{Name: "me", Summary: "Show the logged-in user", Usage: "authctl me", Run: a.me},
			{Name: "verify", Summary: "Check the stored access token with the users service", Usage: "authctl verify", Run: a.verify},
			{Name: "status", Summary: "Show the local session", Usage: "authctl status", Run: a.status},
			{
				Name:    "mint",
				Summary: "Mint a single-use service credential",
				Usage:   "authctl mint [scope...]",
				Run:     a.mint,
			},
			{
				Name:    "set-active",
				Summary: "Activate or deactivate a user with a users:admin service credential",
				Usage:   "authctl set-active <user-id> <true|false>",
				Run:     a.setActive,
			},
		},
	}
}

// accountCommand builds a command taking an optional -u/--username flag.
func accountCommand(name, summary string, run func(ctx context.Context, username string) error) *Command {
	var username string
	return &Command{
		Name:    name,
		Summary: summary,
		Usage:   "authctl " + name + " [-u username]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
			fs.StringVarP(&username, "username", "u", "", "account username (prompted when empty)")
			return fs
		},
		Run: func(ctx context.Context, _ []string) error {
			return run(ctx, username)
		},
	}
}

// credentials prompts for whatever of username and password is missing.
func (a *App) credentials(username string) (string, []byte, error) {
	var err error
	if username == "" {
		if username, err = GetSimpleText(a.reader, "Username", a.errOut); err != nil {
			return "", nil, err
		}
	}
	password, err := GetPassword(a.reader, a.errOut)
	if err != nil {
		return "", nil, err
	}
	return username, password, nil
}

func (a *App) register(ctx context.Context, username string) error {
	username, password, err := a.credentials(username)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	u, err := a.users.Register(ctx, username, string(password))
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	fmt.Fprintf(a.out, "registered %s (%s)\n", u.Username, u.ID)
	return nil
}

func (a *App) login(ctx context.Context, username string) error {
	username, password, err := a.credentials(username)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	pair, err := a.users.Login(ctx, username, string(password))
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	// The access token subject is the user id; the signature is the
	// server's concern.
	_, userID, err := auth.Peek(pair.AccessToken)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	if err := a.sessions.Save(ctx, &session.Session{
		UserID:       userID,
		Username:     username,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "logged in as %s\n", username)
	return nil
}

func (a *App) refresh(ctx context.Context, _ []string) error {
	s, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}

	pair, err := a.users.Refresh(ctx, s.UserID, s.RefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrInvalidOrExpiredRefresh) {
			_ = a.sessions.Clear(ctx)
			return fmt.Errorf("refresh: session expired or revoked, log in again: %w", err)
		}
		return fmt.Errorf("refresh: %w", err)
	}

	s.AccessToken, s.RefreshToken = pair.AccessToken, pair.RefreshToken
	if err := a.sessions.Save(ctx, s); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "tokens refreshed")
	return nil
}

func (a *App) logout(ctx context.Context, _ []string) error {
	s, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}

	err = a.users.Logout(ctx, s.UserID, s.RefreshToken)
	if err != nil && !errors.Is(err, common.ErrInvalidOrExpiredRefresh) {
		return fmt.Errorf("logout: %w", err)
	}
	if err := a.sessions.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "logged out")
	return nil
}

func (a *App) me(ctx context.Context, _ []string) error {
	s, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}

	u, err := a.users.Me(ctx, s.AccessToken)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			return fmt.Errorf("me: access token rejected, try 'authctl refresh': %w", err)
		}
		return fmt.Errorf("me: %w", err)
	}
	return a.printJSON(u)
}

func (a *App) verify(ctx context.Context, _ []string) error {
	s, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}
	if err := a.users.VerifyAccess(ctx, s.UserID, s.AccessToken); err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	fmt.Fprintln(a.out, "access token is valid")
	return nil
}

func (a *App) status(ctx context.Context, _ []string) error {
	s, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(map[string]string{"user_id": s.UserID, "username": s.Username})
}

func (a *App) minter() (*peer.CredentialMinter, error) {
	if a.config.ServiceJWTSecret == "" || a.config.NonceURL == "" {
		return nil, errors.New("SERVICE_JWT_SECRET and a nonce service URL are required")
	}
	key, err := auth.NewHMACKey(serviceKeyAlg, []byte(a.config.ServiceJWTSecret))
	if err != nil {
		return nil, err
	}
	return peer.NewCredentialMinter(a.nonces, auth.NewServiceSigner(key, a.config.ServiceName, a.config.ServiceTokenTTL)), nil
}

func (a *App) mint(ctx context.Context, scopes []string) error {
	minter, err := a.minter()
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	token, err := minter.Mint(ctx, scopes...)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	fmt.Fprintln(a.out, token)
	return nil
}

func (a *App) setActive(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("set-active: usage: authctl set-active <user-id> <true|false>")
	}
	active, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("set-active: %w: %q is not a boolean", common.ErrInvalidInput, args[1])
	}

	minter, err := a.minter()
	if err != nil {
		return fmt.Errorf("set-active: %w", err)
	}
	credential, err := minter.Mint(ctx, common.ScopeUsersAdmin)
	if err != nil {
		return fmt.Errorf("set-active: %w", err)
	}
	if err := a.users.SetActive(ctx, credential, args[0], active); err != nil {
		return fmt.Errorf("set-active: %w", err)
	}

	state := "deactivated"
	if active {
		state = "activated"
	}
	fmt.Fprintf(a.out, "%s %s\n", state, args[0])
	return nil
}

func (a *App) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}
