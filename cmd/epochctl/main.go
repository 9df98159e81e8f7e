// Command epochctl is a CLI client for the EpochLedger service.
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

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpcinsecure "google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	grpcserver "github.com/and161185/epoch-ledger/internal/server/grpc"
)

// tokenEnv overrides the saved token when set.
const tokenEnv = "EPOCHCTL_TOKEN"

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "epochctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "epochctl")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	if v := strings.TrimSpace(os.Getenv(tokenEnv)); v != "" {
		return v, nil
	}
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run login)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp without verifying the signature; the server verifies.
func tokenExpiry(tok string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Now().Add(15 * time.Minute), nil
	}
	return claims.ExpiresAt.Time, nil
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

func loadTLS(caPath string, insecure bool) (credentials.TransportCredentials, error) {
	if insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type conn struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
}

func (c conn) dial(ctx context.Context, bearer string) (*grpc.ClientConn, *grpcserver.EpochLedgerClient, error) {
	var opts []grpc.DialOption
	if c.plaintext {
		opts = append(opts, grpc.WithTransportCredentials(grpcinsecure.NewCredentials()))
	} else {
		creds, err := loadTLS(c.caPath, c.insecure)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !c.plaintext}))
	}
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(ctx, c.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewEpochLedgerClient(cc), nil
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printProto(w io.Writer, m proto.Message) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func usage() {
	fmt.Fprintf(os.Stderr, `epochctl
Usage:
  epochctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  login        -token <jwt>                               (saves token; or set %s)
  append       -type <record_type> -payload <json|@file|-> [-vis v] [-att hash=pointer ...]
  visibility   -record <uuid> -vis <private|scout_visible|public>
  list                                                    (own chain, all records)
  visible      [-scout]                                   (own chain, effective visibility)
  verify
  grant-start  -target <uuid> -type <time_window|read_session>
  grant-end    -id <uuid>
  grant-active -target <uuid>
  grant-get    -id <uuid>
  read         -target <uuid> [-grant <uuid>] [-scout]
`, tokenEnv)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	addr := flag.String("addr", "localhost:8443", "server addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	insecure := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "no TLS at all (dev)")
	timeout := flag.Duration("timeout", 30*time.Second, "per command timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	switch cmd {
	case "version":
		fmt.Printf("epochctl %s (%s)\n", version, buildDate)
		return
	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		tok := fs.String("token", "", "access token (JWT)")
		_ = fs.Parse(args)
		if *tok == "" {
			fmt.Fprintln(os.Stderr, "need -token")
			os.Exit(1)
		}
		exp, err := tokenExpiry(*tok)
		if err != nil {
			fail(err)
		}
		if err := saveToken(*tok, exp); err != nil {
			fail(err)
		}
		fmt.Println("ok")
		return
	}

	build, ok := commands[cmd]
	if !ok {
		usage()
	}
	call, err := build(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	token, err := loadToken()
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := conn{addr: *addr, caPath: *caPath, insecure: *insecure, plaintext: *plaintext}
	cc, cli, err := c.dial(ctx, token)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	out, err := cli.Call(ctx, call.method, call.req)
	if err != nil {
		fail(err)
	}
	if err := printProto(os.Stdout, out); err != nil {
		fail(err)
	}
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
