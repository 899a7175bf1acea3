package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rsa"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/websoft9/sshcore/internal/backend"
	"github.com/websoft9/sshcore/internal/sshcore/algorithms"
	"github.com/websoft9/sshcore/internal/sshcore/auth"
	"github.com/websoft9/sshcore/internal/sshcore/forward"
	"github.com/websoft9/sshcore/internal/sshcore/hostkeys"
	"github.com/websoft9/sshcore/internal/sshcore/keyfile"
	"github.com/websoft9/sshcore/internal/tunnel"
)

var connectFlags struct {
	port      int
	login     string
	identity  string
	forceSSH1 bool
	command   string
	proxyType string
	proxyAddr string
	proxyUser string
	proxyPass string
	proxyChap bool
	localFwds []string
}

var connectCmd = &cobra.Command{
	Use:   "connect [user@]host",
	Short: "Open an interactive session on a remote host",
	Args:  cobra.ExactArgs(1),
	RunE:  runConnect,
}

func init() {
	f := connectCmd.Flags()
	f.IntVarP(&connectFlags.port, "port", "p", 0, "port to connect to (default from config, normally 22)")
	f.StringVarP(&connectFlags.login, "login", "l", "", "username (default: current user, or from the URI)")
	f.StringVarP(&connectFlags.identity, "identity", "i", "", "path to a private key file (PPK, SSH-1, or PEM)")
	f.BoolVar(&connectFlags.forceSSH1, "ssh1", false, "force the legacy SSH-1 protocol instead of SSH-2")
	f.StringVar(&connectFlags.command, "command", "", "run a single command instead of an interactive shell")
	f.StringVar(&connectFlags.proxyType, "proxy", "", "proxy type: http, socks4, socks5, telnet")
	f.StringVar(&connectFlags.proxyAddr, "proxy-addr", "", "proxy host:port")
	f.StringVar(&connectFlags.proxyUser, "proxy-user", "", "proxy username")
	f.StringVar(&connectFlags.proxyPass, "proxy-pass", "", "proxy password")
	f.BoolVar(&connectFlags.proxyChap, "proxy-chap", false, "use SOCKS5 CHAP authentication instead of plain username/password")
	f.StringArrayVarP(&connectFlags.localFwds, "local-forward", "L", nil, "forward a local port: [bind_port:]dest_host:dest_port (bind_port 0 picks a free port)")
}

func runConnect(cmd *cobra.Command, args []string) error {
	host, user := splitUserHost(args[0], connectFlags.login)
	port := connectFlags.port
	if port == 0 {
		port = cfg.DefaultPort
	}

	bcfg := backend.Config{
		Host:        host,
		Port:        port,
		Username:    user,
		PreferSSH2:  !connectFlags.forceSSH1,
		TermType:    cfg.TermType,
		DialTimeout: time.Duration(cfg.DialTimeoutSeconds) * time.Second,
	}

	cache, err := hostkeys.Load(cfg.KnownHostsPath)
	if err != nil {
		return fmt.Errorf("load known hosts: %w", err)
	}
	bcfg.HostKeyCache = cache
	bcfg.HostKeyCallback = tofuPrompt

	if err := attachProxy(&bcfg); err != nil {
		return err
	}
	if err := attachIdentity(&bcfg, connectFlags.identity); err != nil {
		return err
	}
	attachPasswordPrompt(&bcfg, host)

	cols, rows := 80, 24
	if w, h, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
		cols, rows = w, h
	}
	bcfg.InitialCols = uint32(cols)
	bcfg.InitialRows = uint32(rows)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := backend.Dial(ctx, bcfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := startLocalForwards(ctx, sess, connectFlags.localFwds); err != nil {
		return err
	}

	if connectFlags.command != "" {
		if err := sess.Exec(connectFlags.command); err != nil {
			return err
		}
		return pumpAndWait(sess)
	}

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("enter raw terminal mode: %w", err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	if err := sess.Shell(); err != nil {
		return err
	}
	watchResize(ctx, sess)
	return pumpAndWait(sess)
}

// pumpAndWait copies stdin/stdout until the session closes, then reports
// the remote exit status if one arrived.
func pumpAndWait(sess *backend.Session) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 32*1024)
		for {
			n, err := sess.Read(buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if _, werr := sess.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	<-done

	if code, ok := sess.ExitStatus(); ok && code != 0 {
		return fmt.Errorf("remote command exited with status %d", code)
	}
	return nil
}

// localForwardPool allocates ephemeral local ports for -L forwards that
// request bind port 0.
var localForwardPool = tunnel.NewPool(40000, 45000)

// startLocalForwards binds a local listener for each -L spec and, for
// every accepted connection, opens a direct-tcpip channel on sess and
// relays bytes between the two until either side closes.
func startLocalForwards(ctx context.Context, sess *backend.Session, specs []string) error {
	for _, spec := range specs {
		fwd, err := parseLocalForward(spec)
		if err != nil {
			return err
		}

		ln, conflict, err := localForwardPool.Acquire(fwd)
		if err != nil {
			return fmt.Errorf("local forward %s: %w", spec, err)
		}
		if conflict != nil {
			log.Warn().Str("forward", fwd.Name).Int("requested", conflict.Requested).
				Int("assigned", conflict.Assigned).Msg("local forward port already in use, reassigned")
		}
		log.Info().Str("forward", fwd.Name).Int("local_port", ln.Addr().(*net.TCPAddr).Port).
			Str("dest", fmt.Sprintf("%s:%d", fwd.DestHost, fwd.DestPort)).Msg("local forward listening")

		go acceptLocalForward(ctx, sess, ln, fwd)
	}
	return nil
}

func acceptLocalForward(ctx context.Context, sess *backend.Session, ln net.Listener, fwd tunnel.Forward) {
	go func() {
		<-ctx.Done()
		ln.Close()
		localForwardPool.Release(fwd.Name)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			payload := forward.PackDirectTCPIP(forward.DirectTCPIP{
				DestHost: fwd.DestHost,
				DestPort: uint32(fwd.DestPort),
				OrigHost: conn.RemoteAddr().(*net.TCPAddr).IP.String(),
				OrigPort: uint32(conn.RemoteAddr().(*net.TCPAddr).Port),
			})
			ch, err := sess.OpenForward("direct-tcpip", payload)
			if err != nil {
				log.Error().Err(err).Str("forward", fwd.Name).Msg("open direct-tcpip channel")
				conn.Close()
				return
			}
			forward.PipeConn(conn, ch)
		}()
	}
}

// parseLocalForward parses "[bind_port:]dest_host:dest_port" into a
// tunnel.Forward. A missing or zero bind port requests auto-assignment.
func parseLocalForward(spec string) (tunnel.Forward, error) {
	parts := strings.Split(spec, ":")
	var bindPort int
	var destHost, destPortStr string

	switch len(parts) {
	case 3:
		p, err := strconv.Atoi(parts[0])
		if err != nil {
			return tunnel.Forward{}, fmt.Errorf("invalid local forward %q: bad bind port", spec)
		}
		bindPort, destHost, destPortStr = p, parts[1], parts[2]
	case 2:
		destHost, destPortStr = parts[0], parts[1]
	default:
		return tunnel.Forward{}, fmt.Errorf("invalid local forward %q: want [bind_port:]host:port", spec)
	}

	destPort, err := strconv.Atoi(destPortStr)
	if err != nil {
		return tunnel.Forward{}, fmt.Errorf("invalid local forward %q: bad destination port", spec)
	}

	return tunnel.Forward{
		Name:      fmt.Sprintf("L:%s", spec),
		DestHost:  destHost,
		DestPort:  destPort,
		LocalPort: bindPort,
	}, nil
}

func watchResize(ctx context.Context, sess *backend.Session) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				if w, h, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
					_ = sess.Resize(uint32(w), uint32(h))
				}
			}
		}
	}()
}

// tofuPrompt implements trust-on-first-use verification at the terminal:
// the fingerprint is shown and the user is asked whether to trust it; a
// yes answer trusts the key and stores it in the cache for this host.
func tofuPrompt(host string, port int, keyType string, blob []byte, fingerprint string) hostkeys.Verdict {
	fmt.Fprintf(os.Stderr, "The authenticity of host '%s:%d' can't be established.\n", host, port)
	fmt.Fprintf(os.Stderr, "%s key fingerprint is %s.\n", keyType, fingerprint)
	fmt.Fprint(os.Stderr, "Are you sure you want to continue connecting (yes/no)? ")

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "yes", "y":
		return hostkeys.ProceedAndCache
	default:
		return hostkeys.Abort
	}
}

func attachProxy(bcfg *backend.Config) error {
	if connectFlags.proxyType == "" {
		return nil
	}
	if connectFlags.proxyAddr == "" {
		return fmt.Errorf("--proxy-addr is required with --proxy")
	}
	var kind backend.ProxyKind
	switch connectFlags.proxyType {
	case "http":
		kind = backend.ProxyHTTP
	case "socks4":
		kind = backend.ProxySOCKS4
	case "socks5":
		kind = backend.ProxySOCKS5
	case "telnet":
		kind = backend.ProxyTelnet
	default:
		return fmt.Errorf("unknown proxy type %q", connectFlags.proxyType)
	}
	bcfg.Proxy = &backend.ProxyConfig{
		Kind:     kind,
		Addr:     connectFlags.proxyAddr,
		Username: connectFlags.proxyUser,
		Password: connectFlags.proxyPass,
		UseCHAP:  connectFlags.proxyChap,
	}
	return nil
}

func attachIdentity(bcfg *backend.Config, path string) error {
	if path == "" {
		path = defaultIdentityPath()
		if path == "" {
			return nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if path == defaultIdentityPath() {
			return nil // no default identity present, fall back to password
		}
		return fmt.Errorf("read identity file %s: %w", path, err)
	}

	priv, err := loadIdentity(data)
	if err != nil {
		return fmt.Errorf("load identity file %s: %w", path, err)
	}

	if bcfg.PreferSSH2 {
		bcfg.LocalKeys = append(bcfg.LocalKeys, auth.LocalKey{HostKey: algorithms.NewRSAHostKeyFromPrivate(priv)})
	} else {
		bcfg.LocalRSAKeysSSH1 = append(bcfg.LocalRSAKeysSSH1, priv)
	}
	return nil
}

func loadIdentity(data []byte) (*rsa.PrivateKey, error) {
	switch {
	case strings.HasPrefix(string(data), "sshcore-ssh2-key-v1"):
		ppk, err := keyfile.ReadPPKKey(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		passphrase := ""
		if ppk.Encrypted {
			passphrase = promptPassphrase()
		}
		return ppk.Decrypt(passphrase)
	case strings.HasPrefix(string(data), "-----BEGIN"):
		return keyfile.ParsePEMRSAPrivateKey(data)
	default:
		f, err := keyfile.ReadSSH1Key(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		passphrase := ""
		if f.Encrypted {
			passphrase = promptPassphrase()
		}
		return f.Decrypt(passphrase)
	}
}

func promptPassphrase() string {
	fmt.Fprint(os.Stderr, "Enter passphrase for key: ")
	b, _ := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	return string(b)
}

func attachPasswordPrompt(bcfg *backend.Config, host string) {
	prompt := func(text string) (string, bool) {
		fmt.Fprintf(os.Stderr, "%s@%s's %s", bcfg.Username, host, text)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	bcfg.Password = prompt
	bcfg.TISPrompt = prompt
}

func defaultIdentityPath() string {
	if cfg.PrivateKeyDir == "" {
		return ""
	}
	p := filepath.Join(cfg.PrivateKeyDir, "id_sshc")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

func splitUserHost(spec, loginFlag string) (host, user string) {
	if at := strings.IndexByte(spec, '@'); at >= 0 {
		user, host = spec[:at], spec[at+1:]
	} else {
		host = spec
	}
	if loginFlag != "" {
		user = loginFlag
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	return host, user
}
