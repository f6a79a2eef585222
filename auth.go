package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/projuktisheba/vpanelctl/internal/auth"
	"github.com/projuktisheba/vpanelctl/internal/config"
)

// readPassword reads without echo. Replaced in tests.
var readPassword = term.ReadPassword

// stdinIsTerminal reports whether os.Stdin is interactive. Replaced in tests.
var stdinIsTerminal = func() bool {
	return isatty.IsTerminal(os.Stdin.Fd())
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE:  runLogin,
	}

	cmd.Flags().StringP("username", "u", "", "username or email")
	cmd.Flags().Bool("password-stdin", false, "read the password from standard input")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored session",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and session expiry",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())
	ctx := cmd.Context()

	username, _ := cmd.Flags().GetString("username")
	passwordStdin, _ := cmd.Flags().GetBool("password-stdin")

	in := bufio.NewReader(cmd.InOrStdin())

	if username == "" {
		if passwordStdin {
			return errors.New("--password-stdin requires --username")
		}

		fmt.Fprint(cc.Stderr, "Username: ")

		line, err := readLine(in)
		if err != nil {
			return fmt.Errorf("reading username: %w", err)
		}

		username = line
	}

	password, err := readLoginPassword(cc, in, passwordStdin)
	if err != nil {
		return err
	}

	if username == "" || password == "" {
		return errors.New("username and password are required")
	}

	sess, err := newAPISession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if cc.Cfg.SessionStore == config.StoreMemory {
		cc.Logger.Warn("memory session store does not persist", "store", cc.Cfg.SessionStore)
		fmt.Fprintln(cc.Stderr, "Warning: session.store is \"memory\"; the session ends when this command exits."+
			" Set it to \"file\" or \"sqlite\" to stay signed in.")
	}

	cc.Logger.Info("login started", "server", cc.Cfg.BaseURL, "username", username)

	res, err := sess.Auth.Login(ctx, username, password)
	if err != nil {
		return err
	}

	if err := sess.Store.Set(res.Credentials); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	meta := map[string]string{metaServer: cc.Cfg.BaseURL, metaUsername: username}
	if u := res.User; u != nil {
		meta[metaUserID] = strconv.FormatInt(u.ID, 10)
		meta[metaName] = u.Name
		meta[metaEmail] = u.Email
		meta[metaRole] = u.Role
	}

	if err := sess.Store.SetMeta(meta); err != nil {
		cc.Logger.Warn("saving session metadata failed", "error", err)
	}

	// An explicit --server is remembered for later commands.
	if cc.Flags.Server != "" && cc.Cfg.ConfigPath != "" {
		if err := config.SaveServer(cc.Cfg.ConfigPath, cc.Cfg.BaseURL); err != nil {
			cc.Logger.Warn("could not save server to config", "error", err)
		}
	}

	cc.Logger.Info("login successful", "server", cc.Cfg.BaseURL)

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, res.User)
	}

	name := username
	if res.User != nil && res.User.Name != "" {
		name = res.User.Name
	}

	cc.Statusf("Signed in to %s as %s.\n", cc.Cfg.BaseURL, name)

	return nil
}

// readLoginPassword reads from stdin with --password-stdin, prompts on a
// terminal, and refuses otherwise.
func readLoginPassword(cc *CLIContext, in *bufio.Reader, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := readLine(in)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}

		return line, nil
	}

	if !stdinIsTerminal() {
		return "", errors.New("no terminal for password prompt; use --password-stdin")
	}

	fmt.Fprint(cc.Stderr, "Password: ")

	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cc.Stderr)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return string(pw), nil
}

// readLine returns one trimmed line. A final line without newline is accepted.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}

	return strings.TrimSpace(line), nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())

	sess, err := newAPISession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Auth.Logout(cmd.Context()); err != nil {
		return fmt.Errorf("removing session: %w", err)
	}

	cc.Statusf("Signed out.\n")

	return nil
}

// whoamiOutput is the JSON shape of whoami.
type whoamiOutput struct {
	Server    string     `json:"server"`
	UserID    string     `json:"user_id,omitempty"`
	Name      string     `json:"name,omitempty"`
	Username  string     `json:"username,omitempty"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())

	sess, err := newAPISession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.requireLogin(); err != nil {
		return err
	}

	cred, err := sess.Store.Get()
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}

	meta, err := sess.Store.Meta()
	if err != nil {
		cc.Logger.Warn("reading session metadata failed", "error", err)
	}

	out := whoamiOutput{
		Server:   cc.Cfg.BaseURL,
		UserID:   meta[metaUserID],
		Name:     meta[metaName],
		Username: meta[metaUsername],
		Email:    meta[metaEmail],
		Role:     meta[metaRole],
		Expired:  cred.Expired(time.Now()),
	}

	if s := meta[metaServer]; s != "" {
		out.Server = s
	}

	// The access token's own claims are more current than login metadata.
	if claims, err := auth.ParseClaims(cred.AccessToken); err == nil {
		if claims.Name != "" {
			out.Name = claims.Name
		}

		if claims.Username != "" {
			out.Username = claims.Username
		}

		if claims.Role != "" {
			out.Role = claims.Role
		}

		if claims.ID != 0 {
			out.UserID = strconv.FormatInt(claims.ID, 10)
		}
	}

	if !cred.ExpiresAt.IsZero() {
		exp := cred.ExpiresAt
		out.ExpiresAt = &exp
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, out)
	}

	printWhoamiText(cc.Stdout, &out)

	return nil
}

func printWhoamiText(w io.Writer, o *whoamiOutput) {
	fmt.Fprintf(w, "Server:   %s\n", o.Server)

	if o.Name != "" {
		fmt.Fprintf(w, "Name:     %s\n", o.Name)
	}

	if o.Username != "" {
		fmt.Fprintf(w, "Username: %s\n", o.Username)
	}

	if o.Email != "" {
		fmt.Fprintf(w, "Email:    %s\n", o.Email)
	}

	if o.Role != "" {
		fmt.Fprintf(w, "Role:     %s\n", o.Role)
	}

	switch {
	case o.ExpiresAt == nil:
		fmt.Fprintf(w, "Session:  no expiry recorded\n")
	case o.Expired:
		fmt.Fprintf(w, "Session:  access token expired %s (refreshed on next request)\n", formatTime(*o.ExpiresAt))
	default:
		fmt.Fprintf(w, "Session:  access token valid until %s\n", formatTime(*o.ExpiresAt))
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
