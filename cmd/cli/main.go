// Command squadcal is a CLI client for the SquadCal service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/squadcal/api/squadcal/v1"
	"github.com/and161185/squadcal/internal/client"
	"github.com/and161185/squadcal/internal/convert"
	"github.com/and161185/squadcal/internal/model"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "squadcal")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "squadcal")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func outboxPath() string { return filepath.Join(cfgDir(), "outbox") }

func saveToken(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func loadToken() (tokenFile, error) {
	var tf tokenFile
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return tf, err
	}
	if err := json.Unmarshal(b, &tf); err != nil {
		return tf, err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return tokenFile{}, errors.New("no valid token (login required)")
	}
	return tf, nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

type tlsOpts struct {
	caPath    string
	skipCheck bool
	plaintext bool
}

func loadTLS(o tlsOpts) (credentials.TransportCredentials, error) {
	switch {
	case o.plaintext:
		return insecure.NewCredentials(), nil
	case o.skipCheck:
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev only
	case o.caPath == "":
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(o.caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}), nil
}

func dial(ctx context.Context, addr string, o tlsOpts, bearer string) (*grpc.ClientConn, pb.SquadCalClient, error) {
	creds, err := loadTLS(o)
	if err != nil {
		return nil, nil, err
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !o.plaintext}))
	}
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, pb.NewSquadCalClient(cc), nil
}

// ---- utils ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `squadcal CLI
Usage:
  squadcal -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  register   -u <username> [-p <password>]
  login      -u <username> [-p <password>]          (saves token)
  threads    [-json]                                 (thread directory)
  create     -name <name> [-vis 0..6] [-edit 0|1] [-parent <id>] [-members id,id]
  join|leave -thread <id>
  messages   [-thread <id>] [-limit n] [-before <id>]
  since      -since <unix ms> [-max n]
  send       -thread <id> -text <text>               (queued in the local outbox)
  flush                                              (resubmit queued work)
  entries    -thread <id> -from YYYY-MM-DD -to YYYY-MM-DD [-deleted]
  save       -thread <id> -day YYYY-MM-DD -text <text>
  edit       -id <entry> -prev <text> -text <text>
  rm         -id <entry> -prev <text>
  restore    -id <entry>
  history    -id <entry>
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

type app struct {
	addr string
	tls  tlsOpts
	out  io.Writer
}

func (a *app) connect(ctx context.Context, authed bool) (*grpc.ClientConn, pb.SquadCalClient, tokenFile, error) {
	var tf tokenFile
	if authed {
		var err error
		if tf, err = loadToken(); err != nil {
			return nil, nil, tf, err
		}
	}
	cc, cli, err := dial(ctx, a.addr, a.tls, tf.AccessToken)
	return cc, cli, tf, err
}

// session opens the local outbox and wraps cli in a client.Session.
func (a *app) session(cli pb.SquadCalClient, tf tokenFile) (*client.Session, func(), error) {
	uid, err := convert.ParseUserID(tf.UserID)
	if err != nil {
		return nil, nil, err
	}
	ob, err := client.OpenOutbox(outboxPath(), vfs.Default)
	if err != nil {
		return nil, nil, err
	}
	// creates go out under the outbox's session id so a resend is stored once
	s, err := client.NewSession(client.NewGRPCRemote(cli), client.SessionConfig{UserID: uid}, zap.NewNop(),
		client.WithOutbox(ob))
	if err != nil {
		_ = ob.Close()
		return nil, nil, err
	}
	return s, func() { _ = ob.Close() }, nil
}

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	addr := flag.String("addr", "localhost:8443", "server addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	skip := flag.Bool("insecure", false, "skip cert verify (dev)")
	plain := flag.Bool("plaintext", false, "no TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	a := &app{addr: *addr, tls: tlsOpts{caPath: *caPath, skipCheck: *skip, plaintext: *plain}, out: os.Stdout}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			usage()
		}
		fail(err)
	}
}

var errUsage = errors.New("usage")

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "version":
		fmt.Fprintf(a.out, "squadcal %s (%s)\n", version, buildDate)
		return nil
	case "register", "login":
		return a.credentials(ctx, cmd, args)
	case "threads":
		return a.threads(ctx, args)
	case "create":
		return a.createThread(ctx, args)
	case "join", "leave":
		return a.membership(ctx, cmd, args)
	case "messages":
		return a.messages(ctx, args)
	case "since":
		return a.since(ctx, args)
	case "send":
		return a.send(ctx, args)
	case "flush":
		return a.flush(ctx)
	case "entries":
		return a.entries(ctx, args)
	case "save", "edit":
		return a.saveEntry(ctx, cmd, args)
	case "rm":
		return a.deleteEntry(ctx, args)
	case "restore":
		return a.restoreEntry(ctx, args)
	case "history":
		return a.history(ctx, args)
	default:
		return errUsage
	}
}

func (a *app) credentials(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *u == "" {
		return errors.New("need -u")
	}
	password, err := passwordOrPrompt(*p, os.Stdin, os.Stderr)
	if err != nil {
		return err
	}

	cc, cli, _, err := a.connect(ctx, false)
	if err != nil {
		return err
	}
	defer cc.Close()

	if cmd == "register" {
		resp, err := cli.Register(ctx, &pb.RegisterRequest{Username: *u, Password: password})
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, resp.UserID)
		return nil
	}

	resp, err := cli.Login(ctx, &pb.LoginRequest{Username: *u, Password: password})
	if err != nil {
		return err
	}
	exp := time.UnixMilli(resp.ExpiresAt)
	if err := saveToken(tokenFile{
		AccessToken: resp.AccessToken, ExpiresAt: exp, UserID: resp.UserID, Username: resp.Username,
	}); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "ok, token valid %s\n", until(exp, time.Now()))
	return nil
}

func (a *app) threads(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("threads", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "raw JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cc, cli, _, err := a.connectOptional(ctx)
	if err != nil {
		return err
	}
	defer cc.Close()

	resp, err := cli.GetThreadDirectory(ctx, &pb.GetThreadDirectoryRequest{})
	if err != nil {
		return err
	}
	if *asJSON {
		printJSON(a.out, resp)
		return nil
	}
	for _, line := range directoryLines(resp, time.Now()) {
		fmt.Fprintln(a.out, line)
	}
	return nil
}

// connectOptional attaches the saved token when one is valid. Anonymous
// viewers may still read open threads.
func (a *app) connectOptional(ctx context.Context) (*grpc.ClientConn, pb.SquadCalClient, tokenFile, error) {
	if _, err := loadToken(); err == nil {
		return a.connect(ctx, true)
	}
	return a.connect(ctx, false)
}

func (a *app) createThread(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	name := fs.String("name", "", "thread name")
	desc := fs.String("desc", "", "description")
	color := fs.String("color", "", "hex color")
	vis := fs.Int("vis", 0, "visibility rule")
	edit := fs.Int("edit", 0, "edit rule")
	parent := fs.Int64("parent", 0, "parent thread id")
	members := fs.String("members", "", "comma separated user ids")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cc, cli, _, err := a.connect(ctx, true)
	if err != nil {
		return err
	}
	defer cc.Close()

	resp, err := cli.CreateThread(ctx, &pb.CreateThreadRequest{
		Name: *name, Description: *desc, Color: *color, Visibility: *vis, EditRule: *edit,
		ParentThreadID: *parent, MemberIDs: splitList(*members),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created thread %d\n", resp.Thread.ID)
	return nil
}

func (a *app) membership(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	thread := fs.Int64("thread", 0, "thread id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *thread == 0 {
		return errors.New("need -thread")
	}
	cc, cli, _, err := a.connect(ctx, true)
	if err != nil {
		return err
	}
	defer cc.Close()

	var resp *pb.ThreadChangeResponse
	if cmd == "join" {
		resp, err = cli.JoinThread(ctx, &pb.JoinThreadRequest{ThreadID: *thread})
	} else {
		resp, err = cli.LeaveThread(ctx, &pb.LeaveThreadRequest{ThreadID: *thread})
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "ok (message %d)\n", resp.Message.ID)
	return nil
}

func (a *app) messages(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("messages", flag.ContinueOnError)
	thread := fs.Int64("thread", 0, "thread id (0 = all joined threads)")
	limit := fs.Int("limit", 20, "messages per thread")
	before := fs.Int64("before", 0, "return messages older than this id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sel := pb.ThreadSelection{AllJoined: *thread == 0}
	if *thread != 0 {
		sel.Cursors = map[int64]int64{*thread: *before}
	}
	cc, cli, _, err := a.connectOptional(ctx)
	if err != nil {
		return err
	}
	defer cc.Close()

	resp, err := cli.FetchMessages(ctx, &pb.FetchMessagesRequest{Selection: sel, Limit: *limit})
	if err != nil {
		return err
	}
	return a.printMessages(resp)
}

func (a *app) since(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("since", flag.ContinueOnError)
	since := fs.Int64("since", 0, "unix ms")
	maxN := fs.Int("max", 100, "max messages per thread")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cc, cli, _, err := a.connect(ctx, true)
	if err != nil {
		return err
	}
	defer cc.Close()

	resp, err := cli.FetchMessagesSince(ctx, &pb.FetchMessagesSinceRequest{
		Selection: pb.ThreadSelection{AllJoined: true}, Since: *since, Max: *maxN,
	})
	if err != nil {
		return err
	}
	return a.printMessages(resp)
}

func (a *app) printMessages(resp *pb.FetchMessagesResponse) error {
	res, err := convert.FromWireMessagesResult(resp)
	if err != nil {
		return err
	}
	for _, line := range messageLines(res, time.Now()) {
		fmt.Fprintln(a.out, line)
	}
	return nil
}

func (a *app) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	thread := fs.Int64("thread", 0, "thread id")
	text := fs.String("text", "", "message text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *thread == 0 || strings.TrimSpace(*text) == "" {
		return errors.New("need -thread and -text")
	}
	cc, cli, tf, err := a.connect(ctx, true)
	if err != nil {
		return err
	}
	defer cc.Close()
	s, closeFn, err := a.session(cli, tf)
	if err != nil {
		return err
	}
	defer closeFn()

	localID, err := s.SendText(ctx, *thread, *text)
	if err != nil {
		// the message stays in the outbox; `flush` retries it
		return fmt.Errorf("%s queued: %w", localID, err)
	}
	m := s.Store().Messages(*thread)
	for _, msg := range m {
		if msg.LocalID == localID {
			fmt.Fprintf(a.out, "sent %s as %d\n", localID, msg.ID)
			return nil
		}
	}
	fmt.Fprintf(a.out, "sent %s\n", localID)
	return nil
}

func (a *app) flush(ctx context.Context) error {
	cc, cli, tf, err := a.connect(ctx, true)
	if err != nil {
		return err
	}
	defer cc.Close()
	s, closeFn, err := a.session(cli, tf)
	if err != nil {
		return err
	}
	defer closeFn()

	before := len(s.Reconciler().All())
	err = s.Flush(ctx)
	for _, line := range pendingLines(s.Reconciler().All()) {
		fmt.Fprintln(a.out, line)
	}
	fmt.Fprintf(a.out, "%d queued, %d left\n", before, len(s.Reconciler().All()))
	return err
}

func (a *app) entries(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("entries", flag.ContinueOnError)
	thread := fs.Int64("thread", 0, "thread id")
	from := fs.String("from", "", "first day")
	to := fs.String("to", "", "last day")
	deleted := fs.Bool("deleted", false, "include deleted entries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *thread == 0 || *from == "" || *to == "" {
		return errors.New("need -thread -from -to")
	}
	cc, cli, _, err := a.connectOptional(ctx)
	if err != nil {
		return err
	}
	defer cc.Close()

	resp, err := cli.FetchEntries(ctx, &pb.FetchEntriesRequest{
		ThreadIDs: []int64{*thread}, From: *from, To: *to, IncludeDeleted: *deleted,
	})
	if err != nil {
		return err
	}
	now := time.Now()
	for _, e := range resp.Entries {
		fmt.Fprintln(a.out, entryLine(e, now))
	}
	return nil
}

func (a *app) saveEntry(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	id := fs.Int64("id", 0, "entry id")
	thread := fs.Int64("thread", 0, "thread id")
	day := fs.String("day", "", "day (YYYY-MM-DD)")
	prev := fs.String("prev", "", "text the edit is based on")
	text := fs.String("text", "", "entry text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var in model.SaveEntry
	switch {
	case cmd == "save" && *thread != 0 && *day != "":
		in = model.SaveEntry{ThreadID: *thread, Day: *day, Text: *text}
	case cmd == "edit" && *id != 0:
		in = model.SaveEntry{EntryID: *id, Text: *text, PrevText: *prev}
	default:
		return errors.New("save needs -thread -day -text; edit needs -id -prev -text")
	}
	cc, cli, _, err := a.connect(ctx, true)
	if err != nil {
		return err
	}
	defer cc.Close()

	in.SessionID = cliSession()
	in.Timestamp = time.Now().UnixMilli()
	ack, err := client.NewGRPCRemote(cli).SaveEntry(ctx, in)
	if err != nil {
		return conflictHint(err)
	}
	fmt.Fprintf(a.out, "entry %d saved\n", ack.EntryID)
	return nil
}

func (a *app) deleteEntry(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	id := fs.Int64("id", 0, "entry id")
	prev := fs.String("prev", "", "current text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("need -id")
	}
	cc, cli, _, err := a.connect(ctx, true)
	if err != nil {
		return err
	}
	defer cc.Close()

	e, err := client.NewGRPCRemote(cli).DeleteEntry(ctx, model.DeleteEntry{
		EntryID: *id, PrevText: *prev, SessionID: cliSession(), Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return conflictHint(err)
	}
	fmt.Fprintf(a.out, "entry %d deleted\n", e.ID)
	return nil
}

func (a *app) restoreEntry(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	id := fs.Int64("id", 0, "entry id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cc, cli, _, err := a.connect(ctx, true)
	if err != nil {
		return err
	}
	defer cc.Close()

	resp, err := cli.RestoreEntry(ctx, &pb.RestoreEntryRequest{EntryID: *id, SessionID: cliSession()})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, entryLine(resp.Entry, time.Now()))
	return nil
}

func (a *app) history(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	id := fs.Int64("id", 0, "entry id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cc, cli, _, err := a.connectOptional(ctx)
	if err != nil {
		return err
	}
	defer cc.Close()

	resp, err := cli.FetchEntryRevisions(ctx, &pb.FetchEntryRevisionsRequest{EntryID: *id})
	if err != nil {
		return err
	}
	now := time.Now()
	for _, r := range resp.Revisions {
		fmt.Fprintln(a.out, revisionLine(r, now))
	}
	return nil
}

// ---- helpers ----

func cliSession() string { return "cli-" + version }

func fail(err error) {
	if s, ok := status.FromError(err); ok && s.Code() != 0 {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
