package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	grpcserver "github.com/and161185/epoch-ledger/internal/server/grpc"
)

// rpcCall is one prepared unary request.
type rpcCall struct {
	method string
	req    *structpb.Struct
}

type builder func(args []string) (rpcCall, error)

var commands = map[string]builder{
	"append":       buildAppend,
	"visibility":   buildVisibility,
	"list":         noArgs(grpcserver.MethodListRecords),
	"visible":      buildVisible,
	"verify":       noArgs(grpcserver.MethodVerifyChain),
	"grant-start":  buildGrantStart,
	"grant-end":    byGrantID("grant-end", grpcserver.MethodEndReadGrant),
	"grant-active": buildGrantActive,
	"grant-get":    byGrantID("grant-get", grpcserver.MethodGetReadGrant),
	"read":         buildRead,
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// attachmentFlags collects repeated -att hash=pointer values.
type attachmentFlags []map[string]any

func (a *attachmentFlags) String() string { return fmt.Sprint(len(*a)) }

func (a *attachmentFlags) Set(v string) error {
	hash, ptr, ok := strings.Cut(v, "=")
	if !ok || hash == "" || ptr == "" {
		return fmt.Errorf("attachment %q: want hash=pointer", v)
	}
	*a = append(*a, map[string]any{"attachment_hash": hash, "storage_pointer": ptr})
	return nil
}

// loadPayload accepts inline JSON, @file or - for stdin. The document is sent
// as a string so numbers keep their exact text.
func loadPayload(arg string) (string, error) {
	var raw []byte
	switch {
	case arg == "":
		return "", errors.New("need -payload")
	case arg == "-":
		b, err := readAll("-")
		if err != nil {
			return "", err
		}
		raw = b
	case strings.HasPrefix(arg, "@"):
		b, err := readAll(arg[1:])
		if err != nil {
			return "", err
		}
		raw = b
	default:
		raw = []byte(arg)
	}
	if !json.Valid(raw) {
		return "", errors.New("payload is not valid JSON")
	}
	return strings.TrimSpace(string(raw)), nil
}

func requireUUID(name, v string) error {
	if v == "" {
		return fmt.Errorf("need -%s", name)
	}
	if _, err := u.FromString(v); err != nil {
		return fmt.Errorf("-%s: %w", name, err)
	}
	return nil
}

func makeCall(method string, m map[string]any) (rpcCall, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return rpcCall{}, err
	}
	return rpcCall{method: method, req: s}, nil
}

func noArgs(method string) builder {
	return func([]string) (rpcCall, error) { return makeCall(method, map[string]any{}) }
}

func buildAppend(args []string) (rpcCall, error) {
	fs := newFlagSet("append")
	typ := fs.String("type", "", "record type")
	payload := fs.String("payload", "", "JSON payload, @file or -")
	vis := fs.String("vis", "private", "visibility")
	var atts attachmentFlags
	fs.Var(&atts, "att", "attachment hash=pointer (repeatable)")
	if err := fs.Parse(args); err != nil {
		return rpcCall{}, err
	}
	if *typ == "" {
		return rpcCall{}, errors.New("need -type")
	}
	p, err := loadPayload(*payload)
	if err != nil {
		return rpcCall{}, err
	}
	list := make([]any, 0, len(atts))
	for _, a := range atts {
		list = append(list, a)
	}
	return makeCall(grpcserver.MethodAppendRecord, map[string]any{
		"record_type": *typ,
		"payload":     p,
		"visibility":  *vis,
		"attachments": list,
	})
}

func buildVisibility(args []string) (rpcCall, error) {
	fs := newFlagSet("visibility")
	rec := fs.String("record", "", "target record id")
	vis := fs.String("vis", "", "new visibility")
	if err := fs.Parse(args); err != nil {
		return rpcCall{}, err
	}
	if err := requireUUID("record", *rec); err != nil {
		return rpcCall{}, err
	}
	if *vis == "" {
		return rpcCall{}, errors.New("need -vis")
	}
	return makeCall(grpcserver.MethodChangeVisibility, map[string]any{"target_record_id": *rec, "visibility": *vis})
}

func buildVisible(args []string) (rpcCall, error) {
	fs := newFlagSet("visible")
	scout := fs.Bool("scout", false, "include scout_visible")
	if err := fs.Parse(args); err != nil {
		return rpcCall{}, err
	}
	return makeCall(grpcserver.MethodListVisibleRecords, map[string]any{"include_scout_visible": *scout})
}

func buildGrantStart(args []string) (rpcCall, error) {
	fs := newFlagSet("grant-start")
	target := fs.String("target", "", "target user id")
	typ := fs.String("type", "read_session", "grant type")
	if err := fs.Parse(args); err != nil {
		return rpcCall{}, err
	}
	if err := requireUUID("target", *target); err != nil {
		return rpcCall{}, err
	}
	return makeCall(grpcserver.MethodStartReadGrant, map[string]any{"target_user_id": *target, "grant_type": *typ})
}

func buildGrantActive(args []string) (rpcCall, error) {
	fs := newFlagSet("grant-active")
	target := fs.String("target", "", "target user id")
	if err := fs.Parse(args); err != nil {
		return rpcCall{}, err
	}
	if err := requireUUID("target", *target); err != nil {
		return rpcCall{}, err
	}
	return makeCall(grpcserver.MethodGetActiveReadGrant, map[string]any{"target_user_id": *target})
}

func byGrantID(name, method string) builder {
	return func(args []string) (rpcCall, error) {
		fs := newFlagSet(name)
		id := fs.String("id", "", "grant id")
		if err := fs.Parse(args); err != nil {
			return rpcCall{}, err
		}
		if err := requireUUID("id", *id); err != nil {
			return rpcCall{}, err
		}
		return makeCall(method, map[string]any{"grant_id": *id})
	}
}

func buildRead(args []string) (rpcCall, error) {
	fs := newFlagSet("read")
	target := fs.String("target", "", "target user id")
	grant := fs.String("grant", "", "grant id (optional)")
	scout := fs.Bool("scout", false, "include scout_visible")
	if err := fs.Parse(args); err != nil {
		return rpcCall{}, err
	}
	if err := requireUUID("target", *target); err != nil {
		return rpcCall{}, err
	}
	m := map[string]any{"target_user_id": *target, "include_scout_visible": *scout}
	if *grant != "" {
		if err := requireUUID("grant", *grant); err != nil {
			return rpcCall{}, err
		}
		m["grant_id"] = *grant
	}
	return makeCall(grpcserver.MethodReadTargetRecords, m)
}
